// Package credentials holds the source credential model and the store that
// maps opaque credential GUIDs to credentials.
package credentials

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/nucleus/metadata-extractor/internal/errkind"
)

// AuthType selects how a connection authenticates against the source.
type AuthType string

const (
	AuthBasic   AuthType = "basic"
	AuthIAMUser AuthType = "iam_user"
	AuthIAMRole AuthType = "iam_role"
)

// Keys understood in Credential.Extra.
const (
	ExtraAccessKeyID     = "aws_access_key_id"
	ExtraSecretAccessKey = "aws_secret_access_key"
	ExtraRoleARN         = "aws_role_arn"
	ExtraExternalID      = "aws_external_id"
	ExtraRegion          = "region"
	ExtraSessionName     = "aws_session_name"
	ExtraSSLMode         = "sslmode"
)

var defaultPorts = map[string]int{
	"postgres": 5432,
	"mysql":    3306,
}

// Credential is everything needed to reach one source database.
type Credential struct {
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	Username string            `json:"username"`
	Password string            `json:"password,omitempty"`
	Database string            `json:"database"`
	Dialect  string            `json:"dialect,omitempty"`
	AuthType AuthType          `json:"authType,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// UnmarshalJSON accepts the request payload spellings "url" for host and
// "userName" for username, and a port given as either a number or a string.
func (c *Credential) UnmarshalJSON(data []byte) error {
	type plain Credential
	aux := struct {
		*plain
		URL      string          `json:"url"`
		UserName string          `json:"userName"`
		Port     json.RawMessage `json:"port"`
	}{plain: (*plain)(c)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if c.Host == "" {
		c.Host = aux.URL
	}
	if c.Username == "" {
		c.Username = aux.UserName
	}

	raw := bytes.TrimSpace(aux.Port)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		raw = []byte(strings.TrimSpace(s))
		if len(raw) == 0 {
			return nil
		}
	}
	port, err := strconv.Atoi(string(raw))
	if err != nil {
		return errkind.Config.New("invalid port %s", string(aux.Port))
	}
	c.Port = port
	return nil
}

// Normalize fills defaults: dialect, auth type and the dialect's standard
// port.
func (c Credential) Normalize(defaultDialect string) Credential {
	if c.Dialect == "" {
		c.Dialect = defaultDialect
	}
	c.Dialect = strings.ToLower(c.Dialect)
	if c.AuthType == "" {
		c.AuthType = AuthBasic
	}
	c.AuthType = AuthType(strings.ToLower(string(c.AuthType)))
	if c.Port == 0 {
		c.Port = defaultPorts[c.Dialect]
	}
	return c
}

// Validate reports missing required fields as config errors.
func (c Credential) Validate() error {
	var missing []string
	if c.Host == "" {
		missing = append(missing, "host")
	}
	if c.Port <= 0 {
		missing = append(missing, "port")
	}
	if c.Username == "" {
		missing = append(missing, "username")
	}
	if c.Database == "" && c.Dialect != "mysql" {
		missing = append(missing, "database")
	}

	switch c.AuthType {
	case AuthBasic, "":
	case AuthIAMUser:
		missing = append(missing, c.missingExtra(ExtraAccessKeyID, ExtraSecretAccessKey)...)
	case AuthIAMRole:
		missing = append(missing, c.missingExtra(ExtraRoleARN)...)
	default:
		return errkind.Config.New("unknown auth type %q", c.AuthType)
	}

	if len(missing) > 0 {
		return errkind.Config.New("missing required credential fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c Credential) missingExtra(keys ...string) []string {
	var missing []string
	for _, key := range keys {
		if c.Extra[key] == "" {
			missing = append(missing, "extra."+key)
		}
	}
	return missing
}

// Redacted returns a copy safe to log.
func (c Credential) Redacted() Credential {
	if c.Password != "" {
		c.Password = "***"
	}
	if len(c.Extra) > 0 {
		extra := make(map[string]string, len(c.Extra))
		for k, v := range c.Extra {
			if k == ExtraSecretAccessKey {
				v = "***"
			}
			extra[k] = v
		}
		c.Extra = extra
	}
	return c
}
