// Package conn is the connection manager: it turns connection settings into
// exactly one open database session per run and guarantees that session is
// released exactly once.
package conn

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	perrors "github.com/koltyakov/pgdiag/internal/errors"
)

// Default configuration values.
const (
	// DefaultPort is the standard PostgreSQL port.
	DefaultPort = 5432

	// DefaultSSLMode mirrors libpq's default.
	DefaultSSLMode = "prefer"

	// DefaultDriver is the database/sql driver name registered by pgx.
	DefaultDriver = "pgx"

	// DefaultConnectTimeout bounds session establishment.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultAppName is reported to the server as application_name.
	DefaultAppName = "pgdiag"
)

// Drivers lists the supported database/sql driver names.
var Drivers = []string{"pgx", "postgres"}

var sslModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Config holds everything needed to open one session.
type Config struct {
	Host     string `json:"host" yaml:"host" mapstructure:"host"`
	Port     int    `json:"port" yaml:"port" mapstructure:"port"`
	User     string `json:"user" yaml:"user" mapstructure:"user"`
	Password string `json:"-" yaml:"password" mapstructure:"password"`
	DBName   string `json:"dbname" yaml:"dbname" mapstructure:"dbname"`

	// SSLMode is passed through to the driver (disable, require, ...).
	SSLMode string `json:"sslmode" yaml:"sslmode" mapstructure:"sslmode"`

	// Driver selects the database/sql driver: "pgx" or "postgres" (lib/pq).
	Driver string `json:"driver" yaml:"driver" mapstructure:"driver"`

	// ConnectTimeout bounds dialing and the initial ping. Zero means no bound.
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout" mapstructure:"connect_timeout"`

	AppName string `json:"app_name" yaml:"app_name" mapstructure:"app_name"`
}

// WithDefaults returns a copy of c with unset optional fields filled in.
func (c Config) WithDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.SSLMode == "" {
		c.SSLMode = DefaultSSLMode
	}
	if c.Driver == "" {
		c.Driver = DefaultDriver
	}
	if c.AppName == "" {
		c.AppName = DefaultAppName
	}
	return c
}

// Validate checks that the configuration is usable and reports every
// problem at once.
func (c Config) Validate() error {
	var errs perrors.MultiError

	if strings.TrimSpace(c.Host) == "" {
		errs.Add(perrors.NewValidationError("host", "", "required"))
	}
	if strings.TrimSpace(c.User) == "" {
		errs.Add(perrors.NewValidationError("user", "", "required"))
	}
	if c.Password == "" {
		errs.Add(perrors.NewValidationError("password", "", "required"))
	}
	if strings.TrimSpace(c.DBName) == "" {
		errs.Add(perrors.NewValidationError("dbname", "", "required"))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs.Add(perrors.NewValidationError("port", strconv.Itoa(c.Port), "must be between 1 and 65535"))
	}
	if c.SSLMode != "" && !sslModes[c.SSLMode] {
		errs.Add(perrors.NewValidationError("sslmode", c.SSLMode, "unknown mode"))
	}
	if c.Driver != "" && !knownDriver(c.Driver) {
		errs.Add(perrors.NewValidationError("driver", c.Driver, "must be one of "+strings.Join(Drivers, ", ")))
	}
	if c.ConnectTimeout < 0 {
		errs.Add(perrors.NewValidationError("connect_timeout", c.ConnectTimeout.String(), "must not be negative"))
	}

	return errs.ErrorOrNil()
}

func knownDriver(name string) bool {
	for _, d := range Drivers {
		if d == name {
			return true
		}
	}
	return false
}

// Addr returns host:port/dbname for messages. It never includes credentials.
func (c Config) Addr() string {
	c = c.WithDefaults()
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) + "/" + c.DBName
}

// DSN builds a postgres:// URL understood by both pgx and lib/pq.
func (c Config) DSN() string {
	c = c.WithDefaults()

	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	q.Set("application_name", c.AppName)
	if c.ConnectTimeout > 0 {
		secs := int(c.ConnectTimeout.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		q.Set("connect_timeout", strconv.Itoa(secs))
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.DBName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// String describes the target without credentials.
func (c Config) String() string {
	c = c.WithDefaults()
	return fmt.Sprintf("%s@%s (driver=%s sslmode=%s)", c.User, c.Addr(), c.Driver, c.SSLMode)
}
