package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vaultd/internal/compound"
	"vaultd/internal/store"
	"vaultd/internal/store/model"
	"vaultd/internal/vault"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStore persists vault bookkeeping and the replay set in SQLite.
type GormStore struct {
	db *gorm.DB
}

var (
	_ store.Store        = (*GormStore)(nil)
	_ compound.ReplaySet = (*GormStore)(nil)
)

func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: path cannot be empty")
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
	models := []interface{}{
		&model.StrategyRecordModel{},
		&model.ReportModel{},
		&model.UsedPayloadModel{},
		&model.EventModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: keep write contention low while allowing concurrent reads.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveStrategyRecord upserts one registry entry keyed by strategy id.
func (s *GormStore) SaveStrategyRecord(ctx context.Context, id string, rec vault.StrategyRecord) error {
	row := model.StrategyRecordModel{
		StrategyID:  id,
		ActivatedAt: rec.ActivatedAt.Unix(),
		LastReport:  unixOrZero(rec.LastReport),
		CurrentDebt: rec.CurrentDebt.String(),
		MaxDebt:     rec.MaxDebt.String(),
		Active:      rec.Active,
		UpdatedAt:   time.Now(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "strategy_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"activated_at", "last_report", "current_debt", "max_debt", "active", "updated_at",
		}),
	}).Create(&row).Error
}

// LoadStrategyRecords rebuilds the registry snapshot at startup.
func (s *GormStore) LoadStrategyRecords(ctx context.Context) (map[string]vault.StrategyRecord, error) {
	var rows []model.StrategyRecordModel
	if err := s.db.WithContext(ctx).Order("activated_at asc, id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]vault.StrategyRecord, len(rows))
	for _, row := range rows {
		currentDebt, err := decimal.NewFromString(row.CurrentDebt)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: corrupt current_debt %q: %w", row.StrategyID, row.CurrentDebt, err)
		}
		maxDebt, err := decimal.NewFromString(row.MaxDebt)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: corrupt max_debt %q: %w", row.StrategyID, row.MaxDebt, err)
		}
		out[row.StrategyID] = vault.StrategyRecord{
			ActivatedAt: time.Unix(row.ActivatedAt, 0),
			LastReport:  timeOrZero(row.LastReport),
			CurrentDebt: currentDebt,
			MaxDebt:     maxDebt,
			Active:      row.Active,
		}
	}
	return out, nil
}

// RecordReport appends one reconciliation outcome.
func (s *GormStore) RecordReport(ctx context.Context, rep vault.ReportRecord) error {
	row := model.ReportModel{
		TraceID:     rep.TraceID,
		StrategyID:  rep.Strategy,
		Profit:      rep.Profit.String(),
		Loss:        rep.Loss.String(),
		CurrentDebt: rep.CurrentDebt.String(),
		ReportedAt:  rep.At.Unix(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// ListReports returns recent reports for one strategy, newest first.
func (s *GormStore) ListReports(ctx context.Context, strategyID string, limit int) ([]model.ReportModel, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []model.ReportModel
	err := s.db.WithContext(ctx).
		Where("strategy_id = ?", strategyID).
		Order("reported_at desc, id desc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// RecordEvent appends one vault event. The payload map is stored as JSON.
func (s *GormStore) RecordEvent(ctx context.Context, ev vault.Event) error {
	payload := datatypes.JSON("{}")
	if len(ev.Payload) > 0 {
		raw, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		payload = datatypes.JSON(raw)
	}
	row := model.EventModel{
		TraceID:    ev.TraceID,
		Type:       string(ev.Type),
		StrategyID: ev.Strategy,
		Payload:    payload,
		OccurredAt: ev.At.Unix(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// ListEvents returns recent vault events, newest first.
func (s *GormStore) ListEvents(ctx context.Context, limit int) ([]model.EventModel, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []model.EventModel
	err := s.db.WithContext(ctx).Order("occurred_at desc, id desc").Limit(limit).Find(&rows).Error
	return rows, err
}

// MarkPayloadUsed inserts a digest into the replay set. The unique index
// makes the insert the membership check: a conflicting row means the payload
// was already burned.
func (s *GormStore) MarkPayloadUsed(ctx context.Context, digest string, deadline time.Time) (bool, error) {
	row := model.UsedPayloadModel{Digest: digest, Deadline: deadline.Unix()}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "digest"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkUsed adapts MarkPayloadUsed to the executor's replay-set interface.
func (s *GormStore) MarkUsed(ctx context.Context, digest string, deadline time.Time) (bool, error) {
	return s.MarkPayloadUsed(ctx, digest, deadline)
}

// Seen adapts SeenPayload to the executor's replay-set interface.
func (s *GormStore) Seen(ctx context.Context, digest string) (bool, error) {
	return s.SeenPayload(ctx, digest)
}

// SeenPayload reports replay-set membership without inserting.
func (s *GormStore) SeenPayload(ctx context.Context, digest string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.UsedPayloadModel{}).
		Where("digest = ?", digest).
		Count(&count).Error
	return count > 0, err
}

// PrunePayloads drops digests whose payload deadline passed more than
// retention ago. Expired payloads fail the expiry check before ever reaching
// the replay set, so the removal cannot re-enable a replay.
func (s *GormStore) PrunePayloads(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	res := s.db.WithContext(ctx).
		Where("deadline < ?", cutoff).
		Delete(&model.UsedPayloadModel{})
	return res.RowsAffected, res.Error
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}
