package deadletter

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore 把死信写入独立的 SQLite 文件，避免与业务库争用写锁。
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("dead letter path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS dead_letters (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id TEXT NOT NULL,
			topic TEXT NOT NULL,
			msg_key TEXT,
			consumer_group TEXT,
			stage TEXT NOT NULL,
			payload TEXT,
			error TEXT,
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_dead_letters_topic ON dead_letters(topic, id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("dead letter schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, l Letter) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letters (message_id, topic, msg_key, consumer_group, stage, payload, error, attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.MessageID, l.Topic, l.Key, l.Group, string(l.Stage), string(l.Payload), l.Error, l.Attempts, l.CreatedAt.UnixMilli(),
	)
	return err
}

func (s *SQLiteStore) List(ctx context.Context, topic string, limit int) ([]Letter, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, message_id, topic, msg_key, consumer_group, stage, payload, error, attempts, created_at FROM dead_letters`
	args := []any{}
	if topic != "" {
		query += ` WHERE topic = ?`
		args = append(args, topic)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Letter
	for rows.Next() {
		var (
			l         Letter
			key       sql.NullString
			group     sql.NullString
			stage     string
			payload   sql.NullString
			errText   sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&l.ID, &l.MessageID, &l.Topic, &key, &group, &stage, &payload, &errText, &l.Attempts, &createdAt); err != nil {
			return nil, err
		}
		l.Key = key.String
		l.Group = group.String
		l.Stage = Stage(stage)
		if payload.Valid && payload.String != "" {
			l.Payload = []byte(payload.String)
		}
		l.Error = errText.String
		l.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
