package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/voltbill/chargesync/internal/syncrun/domain"
	pkgdb "github.com/voltbill/chargesync/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) CreateRun(ctx context.Context, db *gorm.DB, run *domain.SyncRun) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO sync_runs (id, status, started_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		run.ID,
		run.Status,
		run.StartedAt,
		run.CreatedAt,
		run.UpdatedAt,
	).Error
}

func (r *repo) GetRunningRun(ctx context.Context, db *gorm.DB) (*domain.SyncRun, error) {
	var run domain.SyncRun
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM sync_runs WHERE status = ? ORDER BY started_at DESC LIMIT 1`,
		domain.RunStatusRunning,
	).Scan(&run).Error
	if err != nil {
		return nil, err
	}
	if run.ID == 0 {
		return nil, nil
	}
	return &run, nil
}

func (r *repo) FindRunByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.SyncRun, error) {
	var run domain.SyncRun
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM sync_runs WHERE id = ?`,
		id,
	).Scan(&run).Error
	if err != nil {
		return nil, err
	}
	if run.ID == 0 {
		return nil, domain.ErrRunNotFound
	}
	return &run, nil
}

func (r *repo) ListRuns(ctx context.Context, db *gorm.DB, page domain.Pagination) ([]domain.SyncRun, int64, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}

	var total int64
	if err := db.WithContext(ctx).Model(&domain.SyncRun{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var runs []domain.SyncRun
	err := db.WithContext(ctx).
		Model(&domain.SyncRun{}).
		Order("started_at desc, id desc").
		Limit(limit).
		Offset(offset).
		Find(&runs).Error
	if err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

func (r *repo) MarkRunCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, finishedAt time.Time, counts domain.RunCounts, errs []string) error {
	serialized, err := serializeErrors(errs)
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Exec(
		`UPDATE sync_runs
		 SET status = ?, finished_at = ?, transactions_processed = ?, events_created = ?,
		     tags_activated = ?, tags_deactivated = ?, tags_unchanged = ?, errors = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.RunStatusCompleted,
		finishedAt,
		counts.TransactionsProcessed,
		counts.EventsCreated,
		counts.TagsActivated,
		counts.TagsDeactivated,
		counts.TagsUnchanged,
		serialized,
		finishedAt,
		id,
		domain.RunStatusRunning,
	).Error
}

func (r *repo) MarkRunFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, finishedAt time.Time, errs []string) error {
	serialized, err := serializeErrors(errs)
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Exec(
		`UPDATE sync_runs
		 SET status = ?, finished_at = ?, errors = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.RunStatusFailed,
		finishedAt,
		serialized,
		finishedAt,
		id,
		domain.RunStatusRunning,
	).Error
}

func (r *repo) SetSegmentStatus(ctx context.Context, db *gorm.DB, runID snowflake.ID, segment string, status domain.SegmentStatus) error {
	var column string
	switch segment {
	case domain.SegmentTagLinking:
		column = "tag_linking_status"
	case domain.SegmentTransactionSync:
		column = "transaction_sync_status"
	default:
		return domain.ErrUnknownSegment
	}
	return db.WithContext(ctx).Exec(
		`UPDATE sync_runs SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		status,
		time.Now().UTC(),
		runID,
	).Error
}

// UpsertSyncStates writes one row per transaction id. Upserts run per row
// rather than as one bulk statement; the conflict target keeps them
// idempotent under replays.
func (r *repo) UpsertSyncStates(ctx context.Context, db *gorm.DB, states []*domain.TransactionSyncState) error {
	for _, state := range states {
		if state == nil {
			continue
		}
		err := db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "transaction_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"last_synced_meter_value",
				"total_kwh_billed",
				"is_finalized",
				"last_sync_run_id",
				"updated_at",
			}),
		}).Create(state).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindSyncStates(ctx context.Context, db *gorm.DB, transactionIDs []int64) (map[int64]*domain.TransactionSyncState, error) {
	out := make(map[int64]*domain.TransactionSyncState, len(transactionIDs))
	if len(transactionIDs) == 0 {
		return out, nil
	}

	var states []*domain.TransactionSyncState
	err := db.WithContext(ctx).
		Model(&domain.TransactionSyncState{}).
		Where("transaction_id IN ?", transactionIDs).
		Find(&states).Error
	if err != nil {
		return nil, err
	}
	for _, state := range states {
		out[state.TransactionID] = state
	}
	return out, nil
}

// InsertEvents appends ledger rows in one multi-row insert. A duplicate
// idempotency key means the delta was already recorded, reported as a
// typed error so callers can treat it as a replay rather than a failure.
func (r *repo) InsertEvents(ctx context.Context, db *gorm.DB, events []*domain.SyncedTransactionEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := db.WithContext(ctx).Create(events).Error; err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return fmt.Errorf("%w: %v", domain.ErrDuplicateLedgerEntry, err)
		}
		return err
	}
	return nil
}

func (r *repo) InsertLogs(ctx context.Context, db *gorm.DB, logs []*domain.SyncRunLog) error {
	if len(logs) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(logs).Error
}

func serializeErrors(errs []string) (datatypes.JSON, error) {
	if len(errs) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(errs)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(payload), nil
}
