package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Segment names the two phases of a sync run tracked independently for
// status and logs.
const (
	SegmentTagLinking      = "tag_linking"
	SegmentTransactionSync = "transaction_sync"
)

type SegmentStatus string

const (
	SegmentStatusSuccess SegmentStatus = "success"
	SegmentStatusWarning SegmentStatus = "warning"
	SegmentStatusError   SegmentStatus = "error"
	SegmentStatusSkipped SegmentStatus = "skipped"
)

type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

var (
	ErrRunAlreadyInProgress = errors.New("sync run already in progress")
	ErrRunNotFound          = errors.New("sync run not found")
	ErrUnknownSegment       = errors.New("unknown run segment")
	ErrDuplicateLedgerEntry = errors.New("ledger entry already recorded")
)

// SyncRun is one orchestrator invocation.
type SyncRun struct {
	ID                    snowflake.ID   `gorm:"primaryKey" json:"id"`
	Status                RunStatus      `gorm:"not null;index" json:"status"`
	StartedAt             time.Time      `gorm:"not null" json:"started_at"`
	FinishedAt            *time.Time     `json:"finished_at,omitempty"`
	TransactionsProcessed int            `gorm:"not null;default:0" json:"transactions_processed"`
	EventsCreated         int            `gorm:"not null;default:0" json:"events_created"`
	TagsActivated         int            `gorm:"not null;default:0" json:"tags_activated"`
	TagsDeactivated       int            `gorm:"not null;default:0" json:"tags_deactivated"`
	TagsUnchanged         int            `gorm:"not null;default:0" json:"tags_unchanged"`
	TagLinkingStatus      *SegmentStatus `gorm:"column:tag_linking_status" json:"tag_linking_status,omitempty"`
	TransactionSyncStatus *SegmentStatus `gorm:"column:transaction_sync_status" json:"transaction_sync_status,omitempty"`
	Errors                datatypes.JSON `gorm:"type:jsonb" json:"errors,omitempty"`
	CreatedAt             time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt             time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (SyncRun) TableName() string {
	return "sync_runs"
}

// SyncRunLog is one structured log line scoped to a run segment. Lines are
// buffered in memory and written in a batch when the segment ends.
type SyncRunLog struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	SyncRunID snowflake.ID      `gorm:"not null;index" json:"sync_run_id"`
	Segment   string            `gorm:"not null" json:"segment"`
	Level     LogLevel          `gorm:"not null" json:"level"`
	Message   string            `gorm:"not null" json:"message"`
	Context   datatypes.JSONMap `gorm:"type:jsonb" json:"context,omitempty"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (SyncRunLog) TableName() string {
	return "sync_run_logs"
}

// TransactionSyncState tracks meter progress per external transaction.
// Once IsFinalized is set the row is immutable and later polls for the
// transaction skip all work.
type TransactionSyncState struct {
	TransactionID        int64        `gorm:"primaryKey;autoIncrement:false" json:"transaction_id"`
	LastSyncedMeterValue int64        `gorm:"not null" json:"last_synced_meter_value"`
	TotalKwhBilled       float64      `gorm:"not null;default:0" json:"total_kwh_billed"`
	IsFinalized          bool         `gorm:"not null;default:false" json:"is_finalized"`
	LastSyncRunID        snowflake.ID `gorm:"not null" json:"last_sync_run_id"`
	CreatedAt            time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt            time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (TransactionSyncState) TableName() string {
	return "transaction_sync_states"
}

// SyncedTransactionEvent is the append-only ledger row written per
// processed delta, billable or not. Never updated or deleted.
type SyncedTransactionEvent struct {
	ID                     snowflake.ID  `gorm:"primaryKey" json:"id"`
	TransactionID          int64         `gorm:"not null;index" json:"transaction_id"`
	KwhDelta               float64       `gorm:"not null" json:"kwh_delta"`
	MeterValueFrom         int64         `gorm:"not null" json:"meter_value_from"`
	MeterValueTo           int64         `gorm:"not null" json:"meter_value_to"`
	IsFinal                bool          `gorm:"not null" json:"is_final"`
	LagoEventTransactionID string        `gorm:"not null;uniqueIndex" json:"lago_event_transaction_id"`
	MappingID              *snowflake.ID `json:"mapping_id,omitempty"`
	SyncRunID              snowflake.ID  `gorm:"not null;index" json:"sync_run_id"`
	CreatedAt              time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (SyncedTransactionEvent) TableName() string {
	return "synced_transaction_events"
}

// RunCounts are the final bookkeeping numbers stamped on a completed run.
type RunCounts struct {
	TransactionsProcessed int
	EventsCreated         int
	TagsActivated         int
	TagsDeactivated       int
	TagsUnchanged         int
}
