package conn

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/koltyakov/pgdiag/internal/errors"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name       string
		config     Config
		wantFields []string
	}{
		{
			name:   "valid configuration",
			config: validConfig(),
		},
		{
			name:       "everything missing",
			config:     Config{},
			wantFields: []string{"host", "user", "password", "dbname"},
		},
		{
			name: "port out of range",
			config: Config{
				Host: "h", User: "u", Password: "p", DBName: "d", Port: 70000,
			},
			wantFields: []string{"port"},
		},
		{
			name: "unknown sslmode and driver",
			config: Config{
				Host: "h", User: "u", Password: "p", DBName: "d",
				SSLMode: "sometimes", Driver: "mysql",
			},
			wantFields: []string{"sslmode", "driver"},
		},
		{
			name: "negative connect timeout",
			config: Config{
				Host: "h", User: "u", Password: "p", DBName: "d",
				ConnectTimeout: -time.Second,
			},
			wantFields: []string{"connect_timeout"},
		},
		{
			name: "whitespace host",
			config: Config{
				Host: "  ", User: "u", Password: "p", DBName: "d",
			},
			wantFields: []string{"host"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if len(tt.wantFields) == 0 {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, perrors.ErrInvalidConfig)

			var me *perrors.MultiError
			require.True(t, errors.As(err, &me))

			var got []string
			for _, e := range me.Errors {
				var ve *perrors.ValidationError
				require.True(t, errors.As(e, &ve))
				got = append(got, ve.Field)
			}
			assert.Equal(t, tt.wantFields, got)
		})
	}
}

func TestConfigWithDefaults(t *testing.T) {
	c := Config{Host: "h"}.WithDefaults()

	assert.Equal(t, DefaultPort, c.Port)
	assert.Equal(t, DefaultSSLMode, c.SSLMode)
	assert.Equal(t, DefaultDriver, c.Driver)
	assert.Equal(t, DefaultAppName, c.AppName)

	kept := Config{Port: 6543, SSLMode: "disable", Driver: "postgres", AppName: "x"}.WithDefaults()
	assert.Equal(t, 6543, kept.Port)
	assert.Equal(t, "disable", kept.SSLMode)
	assert.Equal(t, "postgres", kept.Driver)
	assert.Equal(t, "x", kept.AppName)
}

func TestConfigDSN(t *testing.T) {
	c := Config{
		Host:           "db.example.com",
		User:           "diag user",
		Password:       "p@ss:w/rd?",
		DBName:         "app",
		ConnectTimeout: 5 * time.Second,
	}

	u, err := url.Parse(c.DSN())
	require.NoError(t, err)

	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "db.example.com:5432", u.Host)
	assert.Equal(t, "/app", u.Path)
	assert.Equal(t, "diag user", u.User.Username())
	pw, ok := u.User.Password()
	assert.True(t, ok)
	assert.Equal(t, "p@ss:w/rd?", pw)

	q := u.Query()
	assert.Equal(t, "prefer", q.Get("sslmode"))
	assert.Equal(t, "pgdiag", q.Get("application_name"))
	assert.Equal(t, "5", q.Get("connect_timeout"))
}

func TestConfigDSN_SubSecondTimeout(t *testing.T) {
	c := validConfig()
	c.ConnectTimeout = 200 * time.Millisecond

	u, err := url.Parse(c.DSN())
	require.NoError(t, err)
	assert.Equal(t, "1", u.Query().Get("connect_timeout"))
}

func TestConfigDSN_IPv6(t *testing.T) {
	c := validConfig()
	c.Host = "::1"

	u, err := url.Parse(c.DSN())
	require.NoError(t, err)
	assert.Equal(t, "[::1]:5432", u.Host)
}

func TestConfigStringHidesPassword(t *testing.T) {
	c := validConfig()

	s := c.String()
	assert.NotContains(t, s, c.Password)
	assert.Contains(t, s, "diag@db.local:5432/app")
}
