// Package snapshotstore 冻结触发提醒时的特征快照，供复盘回放。快照一经写入不再修改。
package snapshotstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"sealwatch/internal/snapshot"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("snapshotstore: snapshot not found")

// Meta 是快照的索引信息，Reasons 记录为什么要冻结这一帧。
type Meta struct {
	ID         string    `json:"snapshot_id"`
	AsOf       time.Time `json:"as_of"`
	StrategyID string    `json:"strategy_id,omitempty"`
	Light      string    `json:"risk_light"`
	Candidates int       `json:"candidate_count"`
	Reasons    []string  `json:"reasons,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type Stored struct {
	Meta
	Snapshot *snapshot.FeatureSnapshot `json:"-"`
	Raw      []byte                    `json:"-"`
}

type Store struct {
	mu sync.Mutex
	db *sql.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("snapshotstore: 数据库路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS feature_snapshots (
			id TEXT PRIMARY KEY,
			as_of INTEGER NOT NULL,
			strategy_id TEXT,
			risk_light TEXT,
			candidate_count INTEGER,
			reasons TEXT,
			payload TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_feature_snapshots_as_of ON feature_snapshots(as_of);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("snapshotstore: closed")
	}
	return s.db, nil
}

// Put 写入快照；同一 id 已存在时保持原样并返回 created=false。
func (s *Store) Put(ctx context.Context, snap *snapshot.FeatureSnapshot, light string, reasons []string) (bool, error) {
	if snap == nil || strings.TrimSpace(snap.ID) == "" {
		return false, fmt.Errorf("snapshotstore: snapshot id 不能为空")
	}
	db, err := s.conn()
	if err != nil {
		return false, err
	}
	raw, err := snap.Encode()
	if err != nil {
		return false, fmt.Errorf("snapshotstore: encode %s: %w", snap.ID, err)
	}
	res, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO feature_snapshots
			(id, as_of, strategy_id, risk_light, candidate_count, reasons, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.AsOf.UnixMilli(), snap.StrategyID, light, len(snap.Candidates),
		strings.Join(reasons, ","), string(raw), time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Has(ctx context.Context, snapshotID string) (bool, error) {
	db, err := s.conn()
	if err != nil {
		return false, err
	}
	var n int
	err = db.QueryRowContext(ctx, `SELECT COUNT(1) FROM feature_snapshots WHERE id = ?`, snapshotID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Get 读出并重新解码快照。
func (s *Store) Get(ctx context.Context, snapshotID string) (*Stored, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx,
		`SELECT id, as_of, strategy_id, risk_light, candidate_count, reasons, payload, created_at
		FROM feature_snapshots WHERE id = ?`, snapshotID)
	var (
		out     Stored
		payload string
	)
	meta, err := scanMeta(row.Scan, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, snapshotID)
	}
	if err != nil {
		return nil, err
	}
	out.Meta = meta
	out.Raw = []byte(payload)
	out.Snapshot, err = snapshot.Decode(out.Raw)
	if err != nil {
		return nil, fmt.Errorf("snapshotstore: decode %s: %w", snapshotID, err)
	}
	return &out, nil
}

// List 返回 [from, to) 内冻结的快照索引，按 as_of 正序。
func (s *Store) List(ctx context.Context, from, to time.Time) ([]Meta, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, as_of, strategy_id, risk_light, candidate_count, reasons, '', created_at
		FROM feature_snapshots WHERE as_of >= ? AND as_of < ? ORDER BY as_of ASC, id ASC`,
		from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Meta
	for rows.Next() {
		var ignored string
		meta, err := scanMeta(rows.Scan, &ignored)
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	return out, rows.Err()
}

func scanMeta(scan func(dest ...any) error, payload *string) (Meta, error) {
	var (
		m                 Meta
		asOf, created     int64
		strategyID, light sql.NullString
		reasons           sql.NullString
		count             sql.NullInt64
	)
	if err := scan(&m.ID, &asOf, &strategyID, &light, &count, &reasons, payload, &created); err != nil {
		return Meta{}, err
	}
	m.AsOf = time.UnixMilli(asOf).In(snapshot.Location)
	m.CreatedAt = time.UnixMilli(created)
	m.StrategyID = strategyID.String
	m.Light = light.String
	m.Candidates = int(count.Int64)
	if reasons.String != "" {
		m.Reasons = strings.Split(reasons.String, ",")
	}
	return m, nil
}
