package syncrun

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/voltbill/chargesync/internal/clock"
	"github.com/voltbill/chargesync/internal/syncrun/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RunLogger accumulates structured log lines per segment for a single run.
// Lines stay in memory until the segment ends, then flush in one batch
// write together with the run's segment-status column. The accumulator is
// scoped to one run and passed explicitly into each stage; there is no
// ambient logging state.
type RunLogger struct {
	runID    snowflake.ID
	db       *gorm.DB
	repo     domain.Repository
	genID    *snowflake.Node
	clk      clock.Clock
	log      *zap.Logger
	segments map[string]*segmentBuffer
}

type segmentBuffer struct {
	lines      []*domain.SyncRunLog
	hasWarning bool
	hasError   bool
	ended      bool
}

func NewRunLogger(runID snowflake.ID, db *gorm.DB, repo domain.Repository, genID *snowflake.Node, clk clock.Clock, log *zap.Logger) *RunLogger {
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &RunLogger{
		runID:    runID,
		db:       db,
		repo:     repo,
		genID:    genID,
		clk:      clk,
		log:      log.Named("syncrun.log").With(zap.String("run_id", runID.String())),
		segments: make(map[string]*segmentBuffer),
	}
}

func (l *RunLogger) Info(segment, message string, context datatypes.JSONMap) {
	l.append(segment, domain.LogLevelInfo, message, context)
	l.log.Info(message, zap.String("segment", segment), zap.Any("context", context))
}

func (l *RunLogger) Warn(segment, message string, context datatypes.JSONMap) {
	buf := l.append(segment, domain.LogLevelWarning, message, context)
	buf.hasWarning = true
	l.log.Warn(message, zap.String("segment", segment), zap.Any("context", context))
}

func (l *RunLogger) Error(segment, message string, context datatypes.JSONMap) {
	buf := l.append(segment, domain.LogLevelError, message, context)
	buf.hasError = true
	l.log.Error(message, zap.String("segment", segment), zap.Any("context", context))
}

// EndSegment flushes the buffered lines in one write and stamps the run's
// segment-status column. Passing an empty status derives one from the
// buffered levels: error beats warning beats success.
func (l *RunLogger) EndSegment(ctx context.Context, segment string, explicit domain.SegmentStatus) error {
	buf := l.segment(segment)
	if buf.ended {
		return nil
	}
	buf.ended = true

	status := explicit
	if status == "" {
		status = buf.derivedStatus()
	}

	if err := l.repo.InsertLogs(ctx, l.db, buf.lines); err != nil {
		return err
	}
	buf.lines = nil
	return l.repo.SetSegmentStatus(ctx, l.db, l.runID, segment, status)
}

// SkipSegment marks the segment skipped with a single informational line.
func (l *RunLogger) SkipSegment(ctx context.Context, segment, reason string) error {
	l.Info(segment, "segment skipped", datatypes.JSONMap{"reason": reason})
	return l.EndSegment(ctx, segment, domain.SegmentStatusSkipped)
}

func (l *RunLogger) append(segment string, level domain.LogLevel, message string, context datatypes.JSONMap) *segmentBuffer {
	buf := l.segment(segment)
	buf.lines = append(buf.lines, &domain.SyncRunLog{
		ID:        l.genID.Generate(),
		SyncRunID: l.runID,
		Segment:   segment,
		Level:     level,
		Message:   message,
		Context:   context,
		CreatedAt: l.clk.Now().UTC(),
	})
	return buf
}

func (l *RunLogger) segment(name string) *segmentBuffer {
	buf, ok := l.segments[name]
	if !ok {
		buf = &segmentBuffer{}
		l.segments[name] = buf
	}
	return buf
}

func (b *segmentBuffer) derivedStatus() domain.SegmentStatus {
	switch {
	case b.hasError:
		return domain.SegmentStatusError
	case b.hasWarning:
		return domain.SegmentStatusWarning
	default:
		return domain.SegmentStatusSuccess
	}
}
