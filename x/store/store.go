// Package store persists Safes, signatures, proposals and proofs with gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var ErrNotFound = errors.New("record not found")

// Store is the persistence contract used by the safe and proposal services.
// Insert* methods return inserted=false when a unique index rejected the row.
type Store interface {
	CreateSafe(ctx context.Context, safe *Safe) (bool, error)
	GetSafe(ctx context.Context, id string) (*Safe, error)
	GetSafeByOwner(ctx context.Context, zkOwner string) (*Safe, error)
	FindSafeByAddress(ctx context.Context, address string) (*Safe, error)
	TransitionSafe(ctx context.Context, id string, tr SafeTransition) (bool, error)

	InsertSignature(ctx context.Context, sig *SafeSignature) (bool, error)
	ListSignatures(ctx context.Context, safeID string) ([]SafeSignature, error)

	CreateProposal(ctx context.Context, p *Proposal) error
	GetProposal(ctx context.Context, id uint64) (*Proposal, error)
	ListProposals(ctx context.Context) ([]Proposal, error)
	ListProposalsBySafe(ctx context.Context, safeAddress string) ([]Proposal, error)

	InsertProof(ctx context.Context, p *Proof) (bool, error)
	GetProof(ctx context.Context, id uint64) (*Proof, error)
	GetProofByValue(ctx context.Context, proposalID uint64, value string) (*Proof, error)
	FillProofData(ctx context.Context, proofID uint64, data []byte) (bool, error)
	ListProofs(ctx context.Context, proposalID uint64) ([]Proof, error)

	Close() error
}

type Config struct {
	Driver       string        `mapstructure:"driver"         yaml:"driver"`
	DSN          string        `mapstructure:"dsn"            yaml:"dsn"`
	DataDir      string        `mapstructure:"data_dir"       yaml:"data_dir"`
	MaxOpenConns int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleTime  time.Duration `mapstructure:"max_idle_time"  yaml:"max_idle_time"`
	Tracing      bool          `mapstructure:"tracing"        yaml:"tracing"`
}

func DefaultConfig() Config {
	return Config{
		Driver:       DriverSQLite,
		DataDir:      "data",
		MaxOpenConns: 10,
		MaxIdleTime:  5 * time.Minute,
	}
}

// DB implements Store.
type DB struct {
	db  *gorm.DB
	log zerolog.Logger
}

var _ Store = (*DB)(nil)

// Open connects using cfg. An empty DataDir with the sqlite driver opens a private in-memory database.
func Open(cfg Config, log zerolog.Logger) (*DB, error) {
	log = log.With().Str("component", "store").Str("driver", cfg.Driver).Logger()

	gcfg := &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
		TranslateError:         true,
	}

	var (
		gdb *gorm.DB
		err error
	)
	switch cfg.Driver {
	case DriverSQLite, "":
		gdb, err = gorm.Open(sqlite.Open(sqliteDSN(cfg)), gcfg)
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres driver requires a dsn")
		}
		gdb, err = gorm.Open(postgres.Open(cfg.DSN), gcfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	if cfg.Driver == DriverSQLite || cfg.Driver == "" {
		// sqlite allows one writer; a single connection serializes statements instead of returning SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleTime > 0 && cfg.Driver == DriverPostgres {
		sqlDB.SetConnMaxIdleTime(cfg.MaxIdleTime)
	}

	if cfg.Tracing {
		if err := gdb.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			return nil, fmt.Errorf("enable tracing: %w", err)
		}
	}

	if err := gdb.AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Msg("Database ready")
	return &DB{db: gdb, log: log}, nil
}

// NewInMemory opens a private sqlite database, used by tests and the dev profile.
func NewInMemory(log zerolog.Logger) (*DB, error) {
	return Open(Config{Driver: DriverSQLite}, log)
}

func sqliteDSN(cfg Config) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	if cfg.DataDir == "" {
		return fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	}
	_ = os.MkdirAll(cfg.DataDir, 0o755)
	return fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		filepath.Join(cfg.DataDir, "zksafe.sqlite"),
	)
}

// Ping checks the database connection.
func (d *DB) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
