package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/mikeyg42/pianocam/internal/recorder/recorderlog"
)

// PostgresStore implements MetadataStore using PostgreSQL
type PostgresStore struct {
	db     *sqlx.DB
	logger recorderlog.Logger
	config PostgresConfig
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	Host            string
	Port            int
	Database        string
	Username        string
	Password        string
	SSLMode         string // disable, require, verify-ca, verify-full
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN builds the lib/pq connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode,
	)
}

// NewPostgresStore creates a new PostgreSQL metadata store
func NewPostgresStore(ctx context.Context, config PostgresConfig, logger recorderlog.Logger) (*PostgresStore, error) {
	if config.Port == 0 {
		config.Port = 5432
	}
	if config.SSLMode == "" {
		config.SSLMode = "require"
	}
	if config.MaxConnections == 0 {
		config.MaxConnections = 4
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 2
	}
	if config.ConnMaxLifetime == 0 {
		config.ConnMaxLifetime = 5 * time.Minute
	}
	if logger == nil {
		logger = recorderlog.Nop()
	}

	db, err := sqlx.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{
		db:     db,
		logger: logger.Named("postgres-store"),
		config: config,
	}

	if err := store.initSchema(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema if it doesn't exist
func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS recordings (
		external_id VARCHAR(64) PRIMARY KEY,
		session_id BIGINT NOT NULL,
		tag VARCHAR(255) NOT NULL,
		status VARCHAR(20) NOT NULL CHECK (status IN ('completed', 'partial')),

		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ NOT NULL,
		duration_seconds DOUBLE PRECISION NOT NULL,

		frame_count BIGINT NOT NULL,
		fps DOUBLE PRECISION NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		codec VARCHAR(32) NOT NULL,

		path TEXT NOT NULL,
		size_bytes BIGINT NOT NULL,
		files TEXT[] DEFAULT '{}',
		object_key TEXT,

		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_recordings_started_at ON recordings(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_recordings_tag ON recordings(tag);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// recordingRow adds the array column sqlx cannot map onto []string.
type recordingRow struct {
	Recording
	FileList pq.StringArray `db:"files"`
}

const upsertRecording = `
	INSERT INTO recordings (
		external_id, session_id, tag, status, started_at, ended_at, duration_seconds,
		frame_count, fps, width, height, codec, path, size_bytes, files, object_key
	) VALUES (
		:external_id, :session_id, :tag, :status, :started_at, :ended_at, :duration_seconds,
		:frame_count, :fps, :width, :height, :codec, :path, :size_bytes, :files, :object_key
	)
	ON CONFLICT (external_id) DO UPDATE SET
		status = EXCLUDED.status,
		ended_at = EXCLUDED.ended_at,
		duration_seconds = EXCLUDED.duration_seconds,
		frame_count = EXCLUDED.frame_count,
		size_bytes = EXCLUDED.size_bytes,
		files = EXCLUDED.files,
		object_key = EXCLUDED.object_key
	RETURNING created_at`

// SaveRecording upserts one row keyed by the external id and fills in
// CreatedAt from the database.
func (s *PostgresStore) SaveRecording(ctx context.Context, recording *Recording) error {
	if err := recording.Validate(); err != nil {
		return err
	}

	rows, err := s.db.NamedQueryContext(ctx, upsertRecording, recordingRow{
		Recording: *recording,
		FileList:  pq.StringArray(recording.Files),
	})
	if err != nil {
		return fmt.Errorf("failed to save recording: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&recording.CreatedAt); err != nil {
			return fmt.Errorf("failed to read created_at: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to save recording: %w", err)
	}

	s.logger.Info("Recording indexed",
		recorderlog.String("id", recording.ID),
		recorderlog.Int64("session", recording.SessionID))
	return nil
}

// QueryRecordings lists recordings newest first.
func (s *PostgresStore) QueryRecordings(ctx context.Context, query RecordingQuery) ([]*Recording, error) {
	var (
		where []string
		args  []interface{}
	)
	if query.Tag != "" {
		where = append(where, "tag = ?")
		args = append(args, query.Tag)
	}
	if !query.StartTime.IsZero() {
		where = append(where, "started_at >= ?")
		args = append(args, query.StartTime)
	}
	if !query.EndTime.IsZero() {
		where = append(where, "started_at < ?")
		args = append(args, query.EndTime)
	}

	q := "SELECT * FROM recordings"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY started_at DESC"
	if query.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, query.Limit)
	}

	var rows []recordingRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("failed to query recordings: %w", err)
	}

	out := make([]*Recording, len(rows))
	for i := range rows {
		rec := rows[i].Recording
		rec.Files = []string(rows[i].FileList)
		out[i] = &rec
	}
	return out, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
