package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Pagination is a plain limit/offset window over the run history.
type Pagination struct {
	Limit  int
	Offset int
}

type Repository interface {
	CreateRun(ctx context.Context, db *gorm.DB, run *SyncRun) error
	GetRunningRun(ctx context.Context, db *gorm.DB) (*SyncRun, error)
	FindRunByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*SyncRun, error)
	ListRuns(ctx context.Context, db *gorm.DB, page Pagination) ([]SyncRun, int64, error)
	MarkRunCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, finishedAt time.Time, counts RunCounts, errs []string) error
	MarkRunFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, finishedAt time.Time, errs []string) error
	SetSegmentStatus(ctx context.Context, db *gorm.DB, runID snowflake.ID, segment string, status SegmentStatus) error

	UpsertSyncStates(ctx context.Context, db *gorm.DB, states []*TransactionSyncState) error
	FindSyncStates(ctx context.Context, db *gorm.DB, transactionIDs []int64) (map[int64]*TransactionSyncState, error)
	InsertEvents(ctx context.Context, db *gorm.DB, events []*SyncedTransactionEvent) error
	InsertLogs(ctx context.Context, db *gorm.DB, logs []*SyncRunLog) error
}
