package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DatabaseType defines the supported SQL backends.
type DatabaseType string

const (
	DatabaseTypeSQLite   DatabaseType = "sqlite"
	DatabaseTypePostgres DatabaseType = "postgres"
)

// SQLiteConfig contains SQLite-specific configuration.
type SQLiteConfig struct {
	// Path is the database file; ":memory:" keeps it in RAM.
	// Default: $XDG_CONFIG_HOME/remote-shell/audit.db
	Path string
}

// PostgresConfig contains PostgreSQL-specific configuration.
type PostgresConfig struct {
	Host         string
	Port         int
	Database     string
	User         string
	Password     string
	SSLMode      string // disable, require, verify-ca, verify-full
	MaxOpenConns int
	MaxIdleConns int
}

// DSN returns the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		c.Host, c.Port, c.User, c.Password, c.Database)
	if c.SSLMode != "" {
		dsn += fmt.Sprintf(" sslmode=%s", c.SSLMode)
	}
	return dsn
}

// SQLConfig contains SQL database configuration.
type SQLConfig struct {
	Type     DatabaseType
	SQLite   SQLiteConfig
	Postgres PostgresConfig
}

// ApplyDefaults fills in missing configuration with default values.
func (c *SQLConfig) ApplyDefaults() {
	if c.Type == "" {
		c.Type = DatabaseTypeSQLite
	}

	if c.Type == DatabaseTypeSQLite && c.SQLite.Path == "" {
		configDir := os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			homeDir, _ := os.UserHomeDir()
			configDir = filepath.Join(homeDir, ".config")
		}
		c.SQLite.Path = filepath.Join(configDir, "remote-shell", "audit.db")
	}

	if c.Type == DatabaseTypePostgres {
		if c.Postgres.Port == 0 {
			c.Postgres.Port = 5432
		}
		if c.Postgres.SSLMode == "" {
			c.Postgres.SSLMode = "disable"
		}
		if c.Postgres.MaxOpenConns == 0 {
			c.Postgres.MaxOpenConns = 10
		}
		if c.Postgres.MaxIdleConns == 0 {
			c.Postgres.MaxIdleConns = 2
		}
	}
}

// Validate checks if the configuration is valid.
func (c *SQLConfig) Validate() error {
	switch c.Type {
	case DatabaseTypeSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case DatabaseTypePostgres:
		if c.Postgres.Host == "" {
			return fmt.Errorf("postgres host is required")
		}
		if c.Postgres.Database == "" {
			return fmt.Errorf("postgres database is required")
		}
		if c.Postgres.User == "" {
			return fmt.Errorf("postgres user is required")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Type)
	}
	return nil
}

// eventRecord is the GORM model for Event.
type eventRecord struct {
	ID           string    `gorm:"primaryKey;size:36"`
	OccurredAt   time.Time `gorm:"index;not null"`
	EventType    string    `gorm:"size:32;index"`
	Transport    string    `gorm:"size:8"`
	Username     string    `gorm:"size:255;index"`
	RemoteAddr   string    `gorm:"size:255"`
	Command      string    `gorm:"size:32"`
	Detail       string    `gorm:"type:text"`
	IsError      bool
	ErrorMessage string `gorm:"type:text"`
	DurationMs   int64
}

func (eventRecord) TableName() string { return "audit_events" }

func toRecord(e *Event) *eventRecord {
	return &eventRecord{
		ID:           e.ID,
		OccurredAt:   e.Time,
		EventType:    string(e.Type),
		Transport:    e.Transport,
		Username:     e.Username,
		RemoteAddr:   e.RemoteAddr,
		Command:      e.Command,
		Detail:       e.Detail,
		IsError:      e.IsError,
		ErrorMessage: e.ErrorMessage,
		DurationMs:   e.DurationMs,
	}
}

func (r *eventRecord) toEvent() Event {
	return Event{
		ID:           r.ID,
		Time:         r.OccurredAt.UTC(),
		Type:         EventType(r.EventType),
		Transport:    r.Transport,
		Username:     r.Username,
		RemoteAddr:   r.RemoteAddr,
		Command:      r.Command,
		Detail:       r.Detail,
		IsError:      r.IsError,
		ErrorMessage: r.ErrorMessage,
		DurationMs:   r.DurationMs,
	}
}

// GORMJournal stores events in SQLite or PostgreSQL.
type GORMJournal struct {
	db     *gorm.DB
	config *SQLConfig
}

// NewGORMJournal connects to the database and migrates the events table.
func NewGORMJournal(config *SQLConfig) (*GORMJournal, error) {
	if config == nil {
		config = &SQLConfig{}
	}
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audit database configuration: %w", err)
	}

	var dialector gorm.Dialector
	inMemory := false
	switch config.Type {
	case DatabaseTypeSQLite:
		if config.SQLite.Path == ":memory:" {
			inMemory = true
			dialector = sqlite.Open(":memory:")
			break
		}
		if err := os.MkdirAll(filepath.Dir(config.SQLite.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn := config.SQLite.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		dialector = sqlite.Open(dsn)

	case DatabaseTypePostgres:
		dialector = postgres.Open(config.Postgres.DSN())
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to audit database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}
	switch {
	case inMemory:
		// Every new connection would see its own empty in-memory database.
		sqlDB.SetMaxOpenConns(1)
	case config.Type == DatabaseTypePostgres:
		sqlDB.SetMaxOpenConns(config.Postgres.MaxOpenConns)
		sqlDB.SetMaxIdleConns(config.Postgres.MaxIdleConns)
	}

	if err := db.AutoMigrate(&eventRecord{}); err != nil {
		return nil, fmt.Errorf("failed to run audit migration: %w", err)
	}

	return &GORMJournal{db: db, config: config}, nil
}

func (g *GORMJournal) Record(ctx context.Context, e Event) error {
	stamp(&e)
	if err := g.db.WithContext(ctx).Create(toRecord(&e)).Error; err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (g *GORMJournal) List(ctx context.Context, f Filter) ([]Event, error) {
	q := g.db.WithContext(ctx).Model(&eventRecord{})
	if f.Username != "" {
		q = q.Where("username = ?", f.Username)
	}
	if f.Type != "" {
		q = q.Where("event_type = ?", string(f.Type))
	}
	if !f.Since.IsZero() {
		q = q.Where("occurred_at >= ?", f.Since)
	}

	var records []eventRecord
	if err := q.Order("occurred_at DESC").Limit(f.limit()).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}

	events := make([]Event, len(records))
	for i := range records {
		events[i] = records[i].toEvent()
	}
	return events, nil
}

// DB returns the underlying GORM database connection.
func (g *GORMJournal) DB() *gorm.DB {
	return g.db
}

func (g *GORMJournal) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
