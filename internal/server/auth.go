package server

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.uber.org/zap"

	"github.com/nucleus/metadata-extractor/internal/config"
)

type contextKey string

const contextKeyAuth contextKey = "auth"

// AuthContext is the authenticated caller.
type AuthContext struct {
	Subject  string   `json:"subject"`
	Issuer   string   `json:"issuer"`
	Audience []string `json:"audience"`
	Roles    []string `json:"roles,omitempty"`
	Expires  int64    `json:"exp,omitempty"`
}

// AuthFromContext returns the caller stored by the auth middleware.
func AuthFromContext(ctx context.Context) *AuthContext {
	if auth, ok := ctx.Value(contextKeyAuth).(*AuthContext); ok {
		return auth
	}
	return &AuthContext{Subject: "anonymous"}
}

// AuthMiddleware validates bearer JWTs against the configured JWKS. When no
// JWKS URL is configured every request is treated as anonymous.
func AuthMiddleware(cfg *config.Config, logger *zap.Logger) func(http.Handler) http.Handler {
	var keys keySource
	if cfg.JWKSUrl != "" {
		jwks, err := newJWKSKeys(context.Background(), cfg.JWKSUrl, &http.Client{Timeout: 10 * time.Second})
		if err != nil {
			logger.Error("JWKS unavailable, rejecting authenticated requests", zap.Error(err))
			keys = unavailableKeys{err: err}
		} else {
			keys = jwks
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.JWKSUrl == "" {
				ctx := context.WithValue(r.Context(), contextKeyAuth, &AuthContext{Subject: "anonymous"})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			tokenString, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || tokenString == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token", nil)
				return
			}

			authCtx, err := validateToken(r.Context(), tokenString, keys, cfg)
			if err != nil {
				logger.Warn("rejected token", zap.Error(err))
				var cause error
				if cfg.AuthDebug {
					cause = err
				}
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized", cause)
				return
			}

			ctx := context.WithValue(r.Context(), contextKeyAuth, authCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type keySource interface {
	GetKey(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

type unavailableKeys struct{ err error }

func (u unavailableKeys) GetKey(context.Context, string) (*rsa.PublicKey, error) { return nil, u.err }

func validateToken(ctx context.Context, tokenString string, keys keySource, cfg *config.Config) (*AuthContext, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}), jwt.WithExpirationRequired()}
	if cfg.AuthIssuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.AuthIssuer))
	}
	if cfg.AuthAudience != "" {
		opts = append(opts, jwt.WithAudience(cfg.AuthAudience))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		kid, ok := t.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("missing kid in token header")
		}
		return keys.GetKey(ctx, kid)
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	authCtx := &AuthContext{
		Subject: stringClaim(claims, "sub"),
		Issuer:  stringClaim(claims, "iss"),
	}
	if aud, err := claims.GetAudience(); err == nil {
		authCtx.Audience = aud
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		authCtx.Expires = exp.Unix()
	}
	if roles, ok := claims["roles"].([]interface{}); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				authCtx.Roles = append(authCtx.Roles, s)
			}
		}
	}
	return authCtx, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if val, ok := claims[key].(string); ok {
		return val
	}
	return ""
}

// jwksKeys resolves signing keys from a JWKS endpoint. The set is cached
// and refreshed in the background; an unknown kid forces one refresh so
// rotated keys are picked up before the next scheduled fetch.
type jwksKeys struct {
	url   string
	cache *jwk.Cache
}

func newJWKSKeys(ctx context.Context, url string, client *http.Client) (*jwksKeys, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(url, jwk.WithMinRefreshInterval(15*time.Minute), jwk.WithHTTPClient(client)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS %s: %w", url, err)
	}
	return &jwksKeys{url: url, cache: cache}, nil
}

func (k *jwksKeys) GetKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	set, err := k.cache.Get(ctx, k.url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	key, ok := set.LookupKeyID(kid)
	if !ok {
		if set, err = k.cache.Refresh(ctx, k.url); err != nil {
			return nil, fmt.Errorf("failed to refresh JWKS: %w", err)
		}
		if key, ok = set.LookupKeyID(kid); !ok {
			return nil, fmt.Errorf("key %s not found in JWKS", kid)
		}
	}

	var raw interface{}
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("key %s: %w", kid, err)
	}
	pub, ok := raw.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("key %s is %T, not an RSA public key", kid, raw)
	}
	return pub, nil
}
