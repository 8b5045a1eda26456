package models

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type SSLMode string

const (
	SSLModeRequire    SSLMode = "require"
	SSLModePrefer     SSLMode = "prefer"
	SSLModeVerifyCA   SSLMode = "verify-ca"
	SSLModeVerifyFull SSLMode = "verify-full"
)

const DefaultPostgresPort = 5432

// ConnectionProfile holds what is needed to reach one PostgreSQL database.
type ConnectionProfile struct {
	Host     string  `json:"host" mapstructure:"host"`
	Port     int     `json:"port" mapstructure:"port"`
	Database string  `json:"database" mapstructure:"database"`
	User     string  `json:"user" mapstructure:"user"`
	Password string  `json:"password,omitempty" mapstructure:"password"`
	SSLMode  SSLMode `json:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

func (m SSLMode) Valid() bool {
	switch m {
	case SSLModeRequire, SSLModePrefer, SSLModeVerifyCA, SSLModeVerifyFull:
		return true
	}
	return false
}

// Normalize fills defaults in place. fallback is used when the profile carries no ssl mode.
func (c *ConnectionProfile) Normalize(fallback SSLMode) {
	c.Host = strings.TrimSpace(c.Host)
	c.Database = strings.TrimSpace(c.Database)
	c.User = strings.TrimSpace(c.User)
	if c.Port == 0 {
		c.Port = DefaultPostgresPort
	}
	c.SSLMode = SSLMode(strings.ToLower(strings.TrimSpace(string(c.SSLMode))))
	if c.SSLMode == "" {
		c.SSLMode = fallback
	}
	if c.SSLMode == "" {
		c.SSLMode = SSLModePrefer
	}
}

// SameDatabase reports whether both profiles address the same database on the
// same server. Profiles are compared after Normalize.
func (c ConnectionProfile) SameDatabase(o ConnectionProfile) bool {
	return strings.EqualFold(c.Host, o.Host) && c.Port == o.Port && c.Database == o.Database
}

// Validate reports the first invalid field. role prefixes the field names ("source_db", "dest_db").
func (c ConnectionProfile) Validate(role string) error {
	field := func(name string) string {
		if role == "" {
			return name
		}
		return role + "." + name
	}
	switch {
	case c.Host == "":
		return NewValidationError(field("host"), "is required")
	case c.Port < 1 || c.Port > 65535:
		return NewValidationError(field("port"), fmt.Sprintf("must be between 1 and 65535, got %d", c.Port))
	case c.Database == "":
		return NewValidationError(field("database"), "is required")
	case c.User == "":
		return NewValidationError(field("user"), "is required")
	case !c.SSLMode.Valid():
		return NewValidationError(field("ssl_mode"), fmt.Sprintf("unsupported value %q", c.SSLMode))
	}
	return nil
}

// GenerateConnString builds a lib/pq URL. sslmode is passed explicitly because
// lib/pq has no "prefer"; the dialer decides what to send for that mode.
func (c ConnectionProfile) GenerateConnString(sslmode string, connectTimeout time.Duration) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Host + ":" + strconv.Itoa(c.Port),
		Path:   "/" + c.Database,
	}
	q := url.Values{}
	q.Set("sslmode", sslmode)
	if connectTimeout > 0 {
		secs := int(connectTimeout.Round(time.Second).Seconds())
		if secs < 1 {
			secs = 1
		}
		q.Set("connect_timeout", strconv.Itoa(secs))
	}
	q.Set("application_name", "pgtransfer")
	u.RawQuery = q.Encode()
	return u.String()
}

// Redacted is safe to log.
func (c ConnectionProfile) Redacted() string {
	return fmt.Sprintf("%s@%s:%d/%s (sslmode=%s)", c.User, c.Host, c.Port, c.Database, c.SSLMode)
}
