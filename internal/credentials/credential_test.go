package credentials

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleus/metadata-extractor/internal/errkind"
)

func TestCredentialUnmarshalAliases(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Credential
	}{
		{
			name: "request payload spelling",
			body: `{"url":"db.internal","port":"5432","userName":"svc","password":"p@ss","database":"mydb"}`,
			want: Credential{Host: "db.internal", Port: 5432, Username: "svc", Password: "p@ss", Database: "mydb"},
		},
		{
			name: "canonical spelling",
			body: `{"host":"h","port":3306,"username":"u","database":"d","dialect":"mysql","authType":"iam_user","extra":{"region":"us-east-1"}}`,
			want: Credential{Host: "h", Port: 3306, Username: "u", Database: "d", Dialect: "mysql", AuthType: AuthIAMUser, Extra: map[string]string{"region": "us-east-1"}},
		},
		{
			name: "missing port",
			body: `{"host":"h","username":"u","database":"d"}`,
			want: Credential{Host: "h", Username: "u", Database: "d"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Credential
			require.NoError(t, json.Unmarshal([]byte(tt.body), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCredentialUnmarshalBadPort(t *testing.T) {
	var c Credential
	err := json.Unmarshal([]byte(`{"host":"h","port":"fivefour"}`), &c)
	require.Error(t, err)
}

func TestNormalize(t *testing.T) {
	c := Credential{Host: "h", Username: "u", Database: "d"}.Normalize("postgres")
	assert.Equal(t, "postgres", c.Dialect)
	assert.Equal(t, AuthBasic, c.AuthType)
	assert.Equal(t, 5432, c.Port)

	m := Credential{Host: "h", Username: "u", Dialect: "MySQL", AuthType: "IAM_ROLE"}.Normalize("postgres")
	assert.Equal(t, "mysql", m.Dialect)
	assert.Equal(t, AuthIAMRole, m.AuthType)
	assert.Equal(t, 3306, m.Port)
}

func TestValidate(t *testing.T) {
	base := Credential{Host: "h", Port: 5432, Username: "u", Database: "d", Dialect: "postgres", AuthType: AuthBasic}

	tests := []struct {
		name    string
		mutate  func(c *Credential)
		wantErr string
	}{
		{"valid basic", func(c *Credential) {}, ""},
		{"missing host", func(c *Credential) { c.Host = "" }, "host"},
		{"missing database", func(c *Credential) { c.Database = "" }, "database"},
		{"mysql without database", func(c *Credential) { c.Database = ""; c.Dialect = "mysql" }, ""},
		{"unknown auth", func(c *Credential) { c.AuthType = "kerberos" }, `unknown auth type "kerberos"`},
		{"iam user missing keys", func(c *Credential) { c.AuthType = AuthIAMUser }, "extra.aws_access_key_id"},
		{"iam role", func(c *Credential) {
			c.AuthType = AuthIAMRole
			c.Extra = map[string]string{ExtraRoleARN: "arn:aws:iam::1:role/r"}
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, errkind.Config.Has(err))
		})
	}
}

func TestRedacted(t *testing.T) {
	c := Credential{Password: "secret", Extra: map[string]string{ExtraSecretAccessKey: "k", ExtraRegion: "eu-west-1"}}
	r := c.Redacted()
	assert.Equal(t, "***", r.Password)
	assert.Equal(t, "***", r.Extra[ExtraSecretAccessKey])
	assert.Equal(t, "eu-west-1", r.Extra[ExtraRegion])
	assert.Equal(t, "k", c.Extra[ExtraSecretAccessKey])
}
