package repository

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/config"
	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/models"
)

// SubmissionStore persists submission records keyed by submission ID.
// Get returns (nil, nil) when no record exists.
type SubmissionStore interface {
	Upsert(ctx context.Context, sub *models.Submission) error
	Get(ctx context.Context, id string) (*models.Submission, error)
	Ping(ctx context.Context) error
	Close() error
}

// Driver names a storage backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverOxiDB    Driver = "oxidb"
)

// DetectDriver picks a backend from a connection URL. An empty URL selects
// SQLite so a local run needs no configuration.
func DetectDriver(rawURL string) Driver {
	switch {
	case rawURL == "":
		return DriverSQLite
	case strings.HasPrefix(rawURL, "postgres://"), strings.HasPrefix(rawURL, "postgresql://"):
		return DriverPostgres
	case strings.HasPrefix(rawURL, "oxidb://"):
		return DriverOxiDB
	case strings.HasPrefix(rawURL, "memory:"):
		return DriverMemory
	case strings.HasPrefix(rawURL, "sqlite://"),
		strings.HasPrefix(rawURL, "file:"),
		strings.HasSuffix(rawURL, ".db"),
		strings.HasSuffix(rawURL, ".sqlite"),
		strings.HasSuffix(rawURL, ".sqlite3"):
		return DriverSQLite
	default:
		return DriverPostgres
	}
}

// Open connects the configured backend and prepares its schema.
func Open(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (SubmissionStore, error) {
	driver := Driver(cfg.Driver)
	if driver == "" || driver == "auto" {
		driver = DetectDriver(cfg.URL)
	}
	logger.Info("opening submission store", zap.String("driver", string(driver)))

	switch driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite:
		path := cfg.SQLitePath
		if cfg.URL != "" {
			path = strings.TrimPrefix(cfg.URL, "sqlite://")
		}
		return NewSQLiteStore(ctx, path)
	case DriverPostgres:
		return NewPostgresStore(ctx, cfg.URL, cfg.MaxOpenConns, cfg.MaxIdleConns)
	case DriverOxiDB:
		host, port := cfg.OxiDBHost, cfg.OxiDBPort
		if cfg.URL != "" {
			var err error
			if host, port, err = oxidbAddr(cfg.URL); err != nil {
				return nil, err
			}
		}
		return NewOxiDBStore(ctx, host, port, cfg.PoolSize, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}

func oxidbAddr(rawURL string) (string, int, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", 0, fmt.Errorf("parse oxidb url: %w", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return "", 0, fmt.Errorf("parse oxidb url %q: %w", rawURL, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("parse oxidb port %q: %w", portStr, err)
	}
	return host, port, nil
}
