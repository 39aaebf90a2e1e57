package syncrun

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voltbill/chargesync/internal/clock"
	"github.com/voltbill/chargesync/internal/syncrun/domain"
	"github.com/voltbill/chargesync/internal/syncrun/repository"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var testDBSeq atomic.Int64

var runLoggerTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func setupRunLogger(t *testing.T) (*RunLogger, *gorm.DB, domain.Repository) {
	t.Helper()
	dsn := fmt.Sprintf("file:runlog_test_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	repo := repository.Provide()
	runID := snowflake.ID(1)
	now := runLoggerTime
	require.NoError(t, repo.CreateRun(context.Background(), db, &domain.SyncRun{
		ID:        runID,
		Status:    domain.RunStatusRunning,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewRunLogger(runID, db, repo, node, clock.NewFakeClock(now), zap.NewNop()), db, repo
}

func storedLogs(t *testing.T, db *gorm.DB, segment string) []domain.SyncRunLog {
	t.Helper()
	var logs []domain.SyncRunLog
	require.NoError(t, db.Where("segment = ?", segment).Order("created_at, id").Find(&logs).Error)
	return logs
}

func segmentStatus(t *testing.T, repo domain.Repository, db *gorm.DB, segment string) *domain.SegmentStatus {
	t.Helper()
	run, err := repo.FindRunByID(context.Background(), db, snowflake.ID(1))
	require.NoError(t, err)
	if segment == domain.SegmentTagLinking {
		return run.TagLinkingStatus
	}
	return run.TransactionSyncStatus
}

func TestRunLoggerBuffersUntilSegmentEnd(t *testing.T) {
	rl, db, _ := setupRunLogger(t)

	rl.Info(domain.SegmentTransactionSync, "started", nil)
	rl.Info(domain.SegmentTransactionSync, "progress", datatypes.JSONMap{"done": 3})

	assert.Empty(t, storedLogs(t, db, domain.SegmentTransactionSync), "nothing written before the segment ends")

	require.NoError(t, rl.EndSegment(context.Background(), domain.SegmentTransactionSync, ""))

	logs := storedLogs(t, db, domain.SegmentTransactionSync)
	require.Len(t, logs, 2)
	assert.Equal(t, "started", logs[0].Message)
	assert.Equal(t, domain.LogLevelInfo, logs[0].Level)
	assert.Equal(t, snowflake.ID(1), logs[0].SyncRunID)
}

func TestRunLoggerTimestampsFollowClock(t *testing.T) {
	rl, db, _ := setupRunLogger(t)

	rl.Info(domain.SegmentTransactionSync, "first", nil)
	rl.clk.(*clock.FakeClock).Advance(time.Minute)
	rl.Info(domain.SegmentTransactionSync, "second", nil)
	require.NoError(t, rl.EndSegment(context.Background(), domain.SegmentTransactionSync, ""))

	logs := storedLogs(t, db, domain.SegmentTransactionSync)
	require.Len(t, logs, 2)
	assert.True(t, logs[0].CreatedAt.Equal(runLoggerTime))
	assert.True(t, logs[1].CreatedAt.Equal(runLoggerTime.Add(time.Minute)))
}

func TestRunLoggerDerivedStatus(t *testing.T) {
	tests := []struct {
		name string
		emit func(rl *RunLogger)
		want domain.SegmentStatus
	}{
		{
			name: "info only is success",
			emit: func(rl *RunLogger) {
				rl.Info(domain.SegmentTagLinking, "ok", nil)
			},
			want: domain.SegmentStatusSuccess,
		},
		{
			name: "warning wins over info",
			emit: func(rl *RunLogger) {
				rl.Info(domain.SegmentTagLinking, "ok", nil)
				rl.Warn(domain.SegmentTagLinking, "odd", nil)
			},
			want: domain.SegmentStatusWarning,
		},
		{
			name: "error wins over warning",
			emit: func(rl *RunLogger) {
				rl.Warn(domain.SegmentTagLinking, "odd", nil)
				rl.Error(domain.SegmentTagLinking, "bad", nil)
			},
			want: domain.SegmentStatusError,
		},
		{
			name: "empty segment is success",
			emit: func(*RunLogger) {},
			want: domain.SegmentStatusSuccess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl, db, repo := setupRunLogger(t)
			tt.emit(rl)
			require.NoError(t, rl.EndSegment(context.Background(), domain.SegmentTagLinking, ""))

			status := segmentStatus(t, repo, db, domain.SegmentTagLinking)
			require.NotNil(t, status)
			assert.Equal(t, tt.want, *status)
		})
	}
}

func TestRunLoggerExplicitStatusOverride(t *testing.T) {
	rl, db, repo := setupRunLogger(t)

	rl.Error(domain.SegmentTagLinking, "bad", nil)
	require.NoError(t, rl.EndSegment(context.Background(), domain.SegmentTagLinking, domain.SegmentStatusSkipped))

	status := segmentStatus(t, repo, db, domain.SegmentTagLinking)
	require.NotNil(t, status)
	assert.Equal(t, domain.SegmentStatusSkipped, *status)
}

func TestRunLoggerEndSegmentIdempotent(t *testing.T) {
	rl, db, _ := setupRunLogger(t)

	rl.Info(domain.SegmentTransactionSync, "once", nil)
	require.NoError(t, rl.EndSegment(context.Background(), domain.SegmentTransactionSync, ""))
	require.NoError(t, rl.EndSegment(context.Background(), domain.SegmentTransactionSync, ""))

	assert.Len(t, storedLogs(t, db, domain.SegmentTransactionSync), 1, "second end must not re-flush")
}

func TestRunLoggerSegmentsAreIndependent(t *testing.T) {
	rl, db, repo := setupRunLogger(t)

	rl.Error(domain.SegmentTransactionSync, "bad batch", nil)
	rl.Info(domain.SegmentTagLinking, "all good", nil)

	require.NoError(t, rl.EndSegment(context.Background(), domain.SegmentTransactionSync, ""))
	require.NoError(t, rl.EndSegment(context.Background(), domain.SegmentTagLinking, ""))

	txStatus := segmentStatus(t, repo, db, domain.SegmentTransactionSync)
	require.NotNil(t, txStatus)
	assert.Equal(t, domain.SegmentStatusError, *txStatus)

	tagStatus := segmentStatus(t, repo, db, domain.SegmentTagLinking)
	require.NotNil(t, tagStatus)
	assert.Equal(t, domain.SegmentStatusSuccess, *tagStatus)
}

func TestRunLoggerSkipSegment(t *testing.T) {
	rl, db, repo := setupRunLogger(t)

	require.NoError(t, rl.SkipSegment(context.Background(), domain.SegmentTransactionSync, "no transactions"))

	status := segmentStatus(t, repo, db, domain.SegmentTransactionSync)
	require.NotNil(t, status)
	assert.Equal(t, domain.SegmentStatusSkipped, *status)

	logs := storedLogs(t, db, domain.SegmentTransactionSync)
	require.Len(t, logs, 1)
	assert.Equal(t, "segment skipped", logs[0].Message)
	assert.Equal(t, "no transactions", logs[0].Context["reason"])
}
