package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stanstork/pgtransfer/internal/models"
)

// ErrConnection matches every *ConnectionError.
var ErrConnection = errors.New("connection error")

// ConnectionError is returned when a database cannot be opened or pinged.
type ConnectionError struct {
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	return "cannot connect to " + e.Target + ": " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

type Options struct {
	ConnectTimeout  time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Dialer opens a pinged *sql.DB for a profile.
type Dialer interface {
	Dial(ctx context.Context, profile models.ConnectionProfile) (*sql.DB, error)
}

type postgresDialer struct {
	opts   Options
	logger zerolog.Logger
	open   func(driverName, dsn string) (*sql.DB, error)
}

func NewDialer(opts Options, logger zerolog.Logger) Dialer {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	return &postgresDialer{
		opts:   opts,
		logger: logger.With().Str("component", "dialer").Logger(),
		open:   sql.Open,
	}
}

// sslAttempts lists the lib/pq sslmode values to try in order. lib/pq has no
// "prefer", so it is emulated as require with a plaintext fallback.
func sslAttempts(mode models.SSLMode) []string {
	switch mode {
	case models.SSLModePrefer, "":
		return []string{"require", "disable"}
	default:
		return []string{string(mode)}
	}
}

func (d *postgresDialer) Dial(ctx context.Context, profile models.ConnectionProfile) (*sql.DB, error) {
	attempts := sslAttempts(profile.SSLMode)
	var lastErr error
	for i, sslmode := range attempts {
		db, err := d.open("postgres", profile.GenerateConnString(sslmode, d.opts.ConnectTimeout))
		if err != nil {
			return nil, &ConnectionError{Target: profile.Redacted(), Err: err}
		}

		pingCtx, cancel := context.WithTimeout(ctx, d.opts.ConnectTimeout)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			d.configurePool(db)
			return db, nil
		}
		db.Close()
		lastErr = err

		if i < len(attempts)-1 && sslUnsupported(err) {
			d.logger.Debug().Str("target", profile.Redacted()).Msg("server does not support TLS, retrying without it")
			continue
		}
		break
	}
	return nil, &ConnectionError{Target: profile.Redacted(), Err: lastErr}
}

func (d *postgresDialer) configurePool(db *sql.DB) {
	if d.opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(d.opts.MaxOpenConns)
	}
	if d.opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(d.opts.MaxIdleConns)
	}
	if d.opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(d.opts.ConnMaxLifetime)
	}
}

func sslUnsupported(err error) bool {
	return errors.Is(err, pq.ErrSSLNotSupported) || strings.Contains(err.Error(), "SSL is not enabled on the server")
}
