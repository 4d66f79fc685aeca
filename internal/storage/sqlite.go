package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "pushgw/pkg/logx"
)

//go:embed migrations.sql
var migrations string

const (
	sqliteKeepRows   = 100_000
	sqlitePruneEvery = 500
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	appends atomic.Uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; SQLite serializes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Append(ctx context.Context, r DeliveryRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(at, kind, connection, session, stream_id, device_id, status, reason, apns_id, attempt, delay_ms, err)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.At.UTC().Format(time.RFC3339Nano), r.Kind, r.Connection, nullStr(r.Session), r.StreamID, nullStr(r.DeviceID),
		r.Status, nullStr(r.Reason), nullStr(r.APNsID), r.Attempt, r.DelayMS, nullStr(r.Error),
	)
	if err != nil {
		return err
	}
	if s.appends.Add(1)%sqlitePruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if err := s.prune(pctx); err != nil {
			s.log.Debug("journal prune failed", logx.Err(err))
		}
		cancel()
	}
	return nil
}

func (s *sqliteStore) Recent(ctx context.Context, q Query) ([]DeliveryRecord, error) {
	var (
		where []string
		args  []any
	)
	if q.Connection != "" {
		where = append(where, "connection = ?")
		args = append(args, q.Connection)
	}
	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, q.Kind)
	}
	stmt := `SELECT at, kind, connection, session, stream_id, device_id, status, reason, apns_id, attempt, delay_ms, err FROM deliveries`
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY id DESC LIMIT ?"
	args = append(args, q.limit())

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeliveryRecord
	for rows.Next() {
		var (
			r                                         DeliveryRecord
			at                                        string
			session, device, reason, apnsID, errText sql.NullString
		)
		if err := rows.Scan(&at, &r.Kind, &r.Connection, &session, &r.StreamID, &device, &r.Status, &reason, &apnsID, &r.Attempt, &r.DelayMS, &errText); err != nil {
			return nil, err
		}
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		r.Session, r.DeviceID, r.Reason, r.APNsID, r.Error = session.String, device.String, reason.String, apnsID.String, errText.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM deliveries WHERE id <= (SELECT COALESCE(MAX(id), 0) - ? FROM deliveries)`, sqliteKeepRows)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
