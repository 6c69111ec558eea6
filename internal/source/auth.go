package source

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	rdsauth "github.com/aws/aws-sdk-go-v2/feature/rds/auth"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/nucleus/metadata-extractor/internal/credentials"
	"github.com/nucleus/metadata-extractor/internal/errkind"
)

const defaultSessionName = "metadata_extractor"

// Authenticator produces the secret embedded in a connection string: a
// password for basic auth or a short-lived token for IAM auth.
type Authenticator interface {
	Secret(ctx context.Context) (string, error)
	// RequiresTLS is true for strategies whose tokens must travel over TLS.
	RequiresTLS() bool
}

// NewAuthenticator selects the strategy for cred.AuthType. Unknown types and
// missing strategy fields are config errors.
func NewAuthenticator(cred credentials.Credential) (Authenticator, error) {
	switch cred.AuthType {
	case credentials.AuthBasic, "":
		return BasicAuth{Password: cred.Password}, nil
	case credentials.AuthIAMUser:
		region, err := requireExtra(cred, credentials.ExtraRegion)
		if err != nil {
			return nil, err
		}
		keyID, err := requireExtra(cred, credentials.ExtraAccessKeyID)
		if err != nil {
			return nil, err
		}
		secret, err := requireExtra(cred, credentials.ExtraSecretAccessKey)
		if err != nil {
			return nil, err
		}
		return &IAMUserAuth{
			Endpoint: endpoint(cred),
			Region:   region,
			DBUser:   cred.Username,
			Provider: awscreds.NewStaticCredentialsProvider(keyID, secret, ""),
		}, nil
	case credentials.AuthIAMRole:
		region, err := requireExtra(cred, credentials.ExtraRegion)
		if err != nil {
			return nil, err
		}
		roleARN, err := requireExtra(cred, credentials.ExtraRoleARN)
		if err != nil {
			return nil, err
		}
		session := cred.Extra[credentials.ExtraSessionName]
		if session == "" {
			session = defaultSessionName
		}
		return &IAMRoleAuth{
			Endpoint:    endpoint(cred),
			Region:      region,
			DBUser:      cred.Username,
			RoleARN:     roleARN,
			ExternalID:  cred.Extra[credentials.ExtraExternalID],
			SessionName: session,
			AccessKeyID: cred.Extra[credentials.ExtraAccessKeyID],
			SecretKey:   cred.Extra[credentials.ExtraSecretAccessKey],
		}, nil
	default:
		return nil, errkind.Config.New("unknown auth type %q", cred.AuthType)
	}
}

func requireExtra(cred credentials.Credential, key string) (string, error) {
	v := cred.Extra[key]
	if v == "" {
		return "", errkind.Config.New("%s auth requires extra.%s", cred.AuthType, key)
	}
	return v, nil
}

func endpoint(cred credentials.Credential) string {
	return net.JoinHostPort(cred.Host, strconv.Itoa(cred.Port))
}

// BasicAuth uses the stored password as is.
type BasicAuth struct {
	Password string
}

func (b BasicAuth) Secret(context.Context) (string, error) { return b.Password, nil }
func (BasicAuth) RequiresTLS() bool                        { return false }

// IAMUserAuth signs an RDS auth token with static IAM user keys.
type IAMUserAuth struct {
	Endpoint string
	Region   string
	DBUser   string
	Provider aws.CredentialsProvider
}

func (a *IAMUserAuth) Secret(ctx context.Context) (string, error) {
	token, err := rdsauth.BuildAuthToken(ctx, a.Endpoint, a.Region, a.DBUser, a.Provider)
	if err != nil {
		return "", errkind.Connectivity.Wrap(fmt.Errorf("failed to build IAM auth token: %w", err))
	}
	return token, nil
}

func (*IAMUserAuth) RequiresTLS() bool { return true }

// IAMRoleAuth assumes RoleARN, optionally with an external id, and signs an
// RDS auth token with the temporary credentials.
type IAMRoleAuth struct {
	Endpoint    string
	Region      string
	DBUser      string
	RoleARN     string
	ExternalID  string
	SessionName string
	// AccessKeyID and SecretKey are the caller's keys. When empty the
	// default AWS credential chain of the worker is used.
	AccessKeyID string
	SecretKey   string
}

func (a *IAMRoleAuth) Secret(ctx context.Context) (string, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(a.Region)}
	if a.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(a.AccessKeyID, a.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return "", errkind.Config.New("failed to load AWS config: %v", err)
	}

	provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), a.RoleARN, func(o *stscreds.AssumeRoleOptions) {
		o.RoleSessionName = a.SessionName
		o.Duration = time.Hour
		if a.ExternalID != "" {
			o.ExternalID = aws.String(a.ExternalID)
		}
	})

	token, err := rdsauth.BuildAuthToken(ctx, a.Endpoint, a.Region, a.DBUser, aws.NewCredentialsCache(provider))
	if err != nil {
		return "", errkind.Connectivity.Wrap(fmt.Errorf("failed to assume role %s: %w", a.RoleARN, err))
	}
	return token, nil
}

func (*IAMRoleAuth) RequiresTLS() bool { return true }
