package source

import (
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/nucleus/metadata-extractor/internal/credentials"
)

// PostgresURI builds a postgres:// connection URI. User and secret are
// percent-encoded, so "test@pass!123" becomes "test%40pass%21123".
func PostgresURI(cred credentials.Credential, secret string, requireTLS bool) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cred.Username, secret),
		Host:   net.JoinHostPort(cred.Host, strconv.Itoa(cred.Port)),
		Path:   "/" + cred.Database,
	}
	q := url.Values{}
	if mode := cred.Extra[credentials.ExtraSSLMode]; mode != "" {
		q.Set("sslmode", mode)
	} else if requireTLS {
		q.Set("sslmode", "require")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// MySQLDSN builds a go-sql-driver DSN.
func MySQLDSN(cred credentials.Credential, secret string, requireTLS bool) string {
	cfg := mysql.NewConfig()
	cfg.User = cred.Username
	cfg.Passwd = secret
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(cred.Host, strconv.Itoa(cred.Port))
	cfg.DBName = cred.Database
	cfg.ParseTime = true
	cfg.Timeout = 30 * time.Second
	if requireTLS {
		cfg.TLSConfig = "true"
		// RDS IAM tokens are sent as a cleartext password over TLS
		cfg.AllowCleartextPasswords = true
	}
	return cfg.FormatDSN()
}
