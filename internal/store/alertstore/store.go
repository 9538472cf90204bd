// Package alertstore 持久化决策提醒（ALLOW/WATCH 记录）及人工标注，基于 gorm + SQLite。
package alertstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"sealwatch/internal/decision"
	"sealwatch/internal/pkg/id"
)

var (
	ErrNotFound     = errors.New("alertstore: alert not found")
	ErrInvalidLabel = errors.New("alertstore: invalid label")
)

const defaultListLimit = 100

type Store struct {
	db *gorm.DB
}

// Open 初始化 SQLite（WAL）并迁移表结构。
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("alertstore: 数据库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&alertModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append 写入一条新提醒，标注默认为 unlabeled。
func (s *Store) Append(ctx context.Context, rec decision.Record, at time.Time) (Alert, error) {
	if at.IsZero() {
		at = time.Now()
	}
	m, err := toModel(id.New(at), rec, at)
	if err != nil {
		return Alert{}, fmt.Errorf("alertstore: encode record: %w", err)
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return Alert{}, err
	}
	return m.toAlert()
}

// UpdateLabel 只修改标注与备注，原始记录保持不变。
func (s *Store) UpdateLabel(ctx context.Context, alertID string, label Label, note string) (Alert, error) {
	if !label.Assignable() {
		return Alert{}, fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	res := s.db.WithContext(ctx).Model(&alertModel{}).
		Where("id = ?", alertID).
		Updates(map[string]any{
			"label":      string(label),
			"note":       strings.TrimSpace(note),
			"labeled_at": time.Now().UnixMilli(),
		})
	if res.Error != nil {
		return Alert{}, res.Error
	}
	if res.RowsAffected == 0 {
		return Alert{}, fmt.Errorf("%w: %s", ErrNotFound, alertID)
	}
	return s.Get(ctx, alertID)
}

func (s *Store) Get(ctx context.Context, alertID string) (Alert, error) {
	var m alertModel
	err := s.db.WithContext(ctx).Where("id = ?", alertID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Alert{}, fmt.Errorf("%w: %s", ErrNotFound, alertID)
	}
	if err != nil {
		return Alert{}, err
	}
	return m.toAlert()
}

type Query struct {
	StrategyID string
	Symbol     string
	Action     decision.Action
	Label      Label
	Limit      int
}

// List 按时间倒序返回提醒。
func (s *Store) List(ctx context.Context, q Query) ([]Alert, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	tx := s.db.WithContext(ctx).Model(&alertModel{})
	if q.StrategyID != "" {
		tx = tx.Where("strategy_id = ?", q.StrategyID)
	}
	if q.Symbol != "" {
		tx = tx.Where("symbol = ?", strings.ToUpper(strings.TrimSpace(q.Symbol)))
	}
	if q.Action != "" {
		tx = tx.Where("action = ?", string(q.Action))
	}
	if q.Label != "" {
		tx = tx.Where("label = ?", string(q.Label))
	}
	var rows []alertModel
	if err := tx.Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return toAlerts(rows)
}

// BySnapshot 返回某个快照产生的全部提醒（正序）。
func (s *Store) BySnapshot(ctx context.Context, snapshotID string) ([]Alert, error) {
	var rows []alertModel
	err := s.db.WithContext(ctx).
		Where("snapshot_id = ?", snapshotID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toAlerts(rows)
}

// Since 返回 [from, to) 区间内的提醒；to 为零值表示不设上限。
func (s *Store) Since(ctx context.Context, from, to time.Time) ([]Alert, error) {
	tx := s.db.WithContext(ctx).Where("created_at >= ?", from.UnixMilli())
	if !to.IsZero() {
		tx = tx.Where("created_at < ?", to.UnixMilli())
	}
	var rows []alertModel
	if err := tx.Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toAlerts(rows)
}

// Stats 汇总一段时间内的提醒；WinRate = success / (success + fail)，两者都为 0 时为 0。
type Stats struct {
	Since    time.Time        `json:"since"`
	Total    int64            `json:"total"`
	ByAction map[string]int64 `json:"by_action"`
	ByLabel  map[string]int64 `json:"by_label"`
	WinRate  float64          `json:"win_rate"`
}

type groupCount struct {
	Name string
	N    int64
}

// Stats 统计 since 之后的提醒。
func (s *Store) Stats(ctx context.Context, since time.Time) (Stats, error) {
	out := Stats{
		Since:    since,
		ByAction: map[string]int64{},
		ByLabel:  map[string]int64{},
	}
	base := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&alertModel{}).Where("created_at >= ?", since.UnixMilli())
	}
	var actions []groupCount
	if err := base().Select("action AS name, COUNT(*) AS n").Group("action").Scan(&actions).Error; err != nil {
		return out, err
	}
	for _, g := range actions {
		out.ByAction[g.Name] = g.N
		out.Total += g.N
	}
	var labels []groupCount
	if err := base().Select("label AS name, COUNT(*) AS n").Group("label").Scan(&labels).Error; err != nil {
		return out, err
	}
	for _, g := range labels {
		out.ByLabel[g.Name] = g.N
	}
	win := out.ByLabel[string(LabelSuccess)]
	lose := out.ByLabel[string(LabelFail)]
	if win+lose > 0 {
		out.WinRate = float64(win) / float64(win+lose)
	}
	return out, nil
}

func toAlerts(rows []alertModel) ([]Alert, error) {
	out := make([]Alert, 0, len(rows))
	for _, m := range rows {
		a, err := m.toAlert()
		if err != nil {
			return nil, fmt.Errorf("alertstore: decode %s: %w", m.ID, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
