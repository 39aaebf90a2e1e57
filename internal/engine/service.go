package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/voltbill/chargesync/internal/clock"
	"github.com/voltbill/chargesync/internal/lago"
	"github.com/voltbill/chargesync/internal/mapping"
	mappingdomain "github.com/voltbill/chargesync/internal/mapping/domain"
	"github.com/voltbill/chargesync/internal/metrics"
	"github.com/voltbill/chargesync/internal/runlock"
	"github.com/voltbill/chargesync/internal/steve"
	"github.com/voltbill/chargesync/internal/syncrun"
	syncrundomain "github.com/voltbill/chargesync/internal/syncrun/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("engine: missing required dependency")

// OCPPBackend is the slice of the SteVe client the engine needs.
type OCPPBackend interface {
	ListTags(ctx context.Context) ([]steve.Tag, error)
	ListTransactions(ctx context.Context, query steve.TransactionQuery) ([]steve.Transaction, error)
	UpdateTag(ctx context.Context, tagPk int64, form steve.UpdateTagForm) error
}

// BillingPlatform is the slice of the Lago client the engine needs.
type BillingPlatform interface {
	CreateBatchEvents(ctx context.Context, events []lago.Event) error
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Steve    OCPPBackend
	Lago     BillingPlatform
	Mappings mappingdomain.Repository
	Runs     syncrundomain.Repository
	Locker   *runlock.Locker `optional:"true"`
	Config   Config          `optional:"true"`
}

// Service is the sync orchestrator: fetch, resolve, process, dispatch,
// persist, tag-sync, finalize.
type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	steve     OCPPBackend
	lago      BillingPlatform
	mappings  mappingdomain.Repository
	runs      syncrundomain.Repository
	locker    *runlock.Locker
	processor *DeltaProcessor
}

// RunResult summarizes one orchestrator invocation.
type RunResult struct {
	RunID          snowflake.ID
	AlreadyRunning bool
	Counts         syncrundomain.RunCounts
	Errors         []string
}

func New(p Params) (*Service, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Steve == nil || p.Lago == nil || p.Mappings == nil || p.Runs == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("sync.engine").With(zap.String("component", "engine")),
		cfg:       cfg,
		genID:     p.GenID,
		clock:     p.Clock,
		steve:     p.Steve,
		lago:      p.Lago,
		mappings:  p.Mappings,
		runs:      p.Runs,
		locker:    p.Locker,
		processor: NewDeltaProcessor(cfg.BackendPrefix),
	}, nil
}

// Run executes one full sync. A run already in progress (locally or on
// another instance) yields a distinguished result with zero counts and no
// new run row. Any error inside the run marks the row failed and
// propagates to the caller.
func (s *Service) Run(ctx context.Context) (*RunResult, error) {
	start := s.clock.Now()
	syncMetrics := metrics.Sync()

	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx)
		switch {
		case err != nil:
			// Lock backend down: fall through to the advisory DB guard
			// rather than blocking all syncing.
			s.log.Warn("run lock unavailable", zap.Error(err))
		case !ok:
			s.log.Info("sync already running on another instance")
			syncMetrics.IncRun(metrics.RunOutcomeAlreadyRunning)
			return alreadyRunningResult(), nil
		default:
			defer func() {
				if err := s.locker.Release(context.WithoutCancel(ctx), token); err != nil {
					s.log.Warn("run lock release failed", zap.Error(err))
				}
			}()
		}
	}

	running, err := s.runs.GetRunningRun(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("query running run: %w", err)
	}
	if running != nil {
		s.log.Info("sync already in progress", zap.String("run_id", running.ID.String()))
		syncMetrics.IncRun(metrics.RunOutcomeAlreadyRunning)
		return alreadyRunningResult(), nil
	}

	run := &syncrundomain.SyncRun{
		ID:        s.genID.Generate(),
		Status:    syncrundomain.RunStatusRunning,
		StartedAt: start,
		CreatedAt: start,
		UpdatedAt: start,
	}
	if err := s.runs.CreateRun(ctx, s.db, run); err != nil {
		return nil, fmt.Errorf("create sync run: %w", err)
	}

	s.log.Info("sync run started", zap.String("run_id", run.ID.String()))

	result, err := s.executeGuarded(ctx, run)
	if err != nil {
		if markErr := s.runs.MarkRunFailed(ctx, s.db, run.ID, s.clock.Now(), []string{err.Error()}); markErr != nil {
			s.log.Error("failed to mark run failed", zap.Error(markErr))
		}
		syncMetrics.IncRun(metrics.RunOutcomeFailed)
		syncMetrics.ObserveRunDuration(s.clock.Now().Sub(start))
		return nil, err
	}

	syncMetrics.IncRun(metrics.RunOutcomeCompleted)
	syncMetrics.ObserveRunDuration(s.clock.Now().Sub(start))
	s.log.Info("sync run finished",
		zap.String("run_id", run.ID.String()),
		zap.Int("transactions_processed", result.Counts.TransactionsProcessed),
		zap.Int("events_created", result.Counts.EventsCreated),
		zap.Int("run_errors", len(result.Errors)),
	)
	return result, nil
}

// executeGuarded marks the run failed on a panic before re-raising it, so
// the scheduler can log the crash without losing the run row.
func (s *Service) executeGuarded(ctx context.Context, run *syncrundomain.SyncRun) (result *RunResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			_ = s.runs.MarkRunFailed(ctx, s.db, run.ID, s.clock.Now(), []string{fmt.Sprintf("panic: %v", r)})
			panic(r)
		}
	}()
	return s.execute(ctx, run)
}

func (s *Service) execute(ctx context.Context, run *syncrundomain.SyncRun) (*RunResult, error) {
	rl := syncrun.NewRunLogger(run.ID, s.db, s.runs, s.genID, s.clock, s.log)
	var runErrors []string
	counts := syncrundomain.RunCounts{}

	from := s.clock.Now().Add(-s.cfg.LookbackWindow)
	active, err := s.steve.ListTransactions(ctx, steve.TransactionQuery{ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("fetch active transactions: %w", err)
	}
	recent, err := s.steve.ListTransactions(ctx, steve.TransactionQuery{From: &from})
	if err != nil {
		return nil, fmt.Errorf("fetch recent transactions: %w", err)
	}
	merged := mergeTransactions(active, recent)

	mappings, err := s.mappings.ListActive(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("load active mappings: %w", err)
	}
	tags, err := s.steve.ListTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch tags: %w", err)
	}
	lookup := mapping.BuildLookupWithInheritance(mappings, tags)

	if len(merged) == 0 {
		// Mapping state can change even with zero sessions, so the tag
		// pass still runs.
		if err := rl.SkipSegment(ctx, syncrundomain.SegmentTransactionSync, "no transactions to process"); err != nil {
			runErrors = append(runErrors, fmt.Sprintf("skip transaction_sync segment: %v", err))
		}
		s.runTagLinking(ctx, tags, lookup, rl, &counts, &runErrors)
		return s.complete(ctx, run, counts, runErrors)
	}

	transactionIDs := make([]int64, 0, len(merged))
	for _, tx := range merged {
		transactionIDs = append(transactionIDs, tx.ID)
	}
	states, err := s.runs.FindSyncStates(ctx, s.db, transactionIDs)
	if err != nil {
		return nil, fmt.Errorf("load sync states: %w", err)
	}

	processed, procErrs := s.processor.ProcessAll(merged, states, lookup, run.ID)
	for _, procErr := range procErrs {
		runErrors = append(runErrors, procErr.Error())
		rl.Warn(syncrundomain.SegmentTransactionSync, "transaction skipped", datatypes.JSONMap{
			"error": procErr.Error(),
		})
	}
	counts.TransactionsProcessed = len(processed)

	var billable []*ProcessedTransaction
	for _, p := range processed {
		if p.Billable {
			billable = append(billable, p)
		}
	}

	counts.EventsCreated = s.dispatchEvents(ctx, billable, rl, &runErrors)

	if err := s.persistStates(ctx, processed, states, run.ID); err != nil {
		return nil, fmt.Errorf("persist sync states: %w", err)
	}
	if err := s.persistLedger(ctx, processed, run.ID); err != nil {
		// A replayed idempotency key means the window is already on the
		// ledger; record it without failing the run.
		if !errors.Is(err, syncrundomain.ErrDuplicateLedgerEntry) {
			return nil, fmt.Errorf("persist ledger events: %w", err)
		}
		runErrors = append(runErrors, err.Error())
		rl.Warn(syncrundomain.SegmentTransactionSync, "ledger rows already recorded", datatypes.JSONMap{
			"error": err.Error(),
		})
	}

	rl.Info(syncrundomain.SegmentTransactionSync, "transaction sync finished", datatypes.JSONMap{
		"transactions_processed": counts.TransactionsProcessed,
		"events_created":         counts.EventsCreated,
		"billable":               len(billable),
	})
	if err := rl.EndSegment(ctx, syncrundomain.SegmentTransactionSync, ""); err != nil {
		runErrors = append(runErrors, fmt.Sprintf("end transaction_sync segment: %v", err))
	}

	s.runTagLinking(ctx, tags, lookup, rl, &counts, &runErrors)

	return s.complete(ctx, run, counts, runErrors)
}

// dispatchEvents builds, batches, and sends billable results. A failed
// batch is recorded and does not stop subsequent batches. Returns the
// number of events the platform accepted.
func (s *Service) dispatchEvents(ctx context.Context, billable []*ProcessedTransaction, rl *syncrun.RunLogger, runErrors *[]string) int {
	if len(billable) == 0 {
		return 0
	}
	syncMetrics := metrics.Sync()

	now := s.clock.Now()
	events := make([]lago.Event, 0, len(billable))
	for _, p := range billable {
		events = append(events, buildEvent(p, s.cfg.MetricCode, now))
	}

	dispatched := 0
	batches := chunkEvents(events, s.cfg.EventBatchSize)
	for i, batch := range batches {
		if err := s.lago.CreateBatchEvents(ctx, batch); err != nil {
			message := fmt.Sprintf("event batch %d/%d failed: %v", i+1, len(batches), err)
			*runErrors = append(*runErrors, message)
			syncMetrics.IncBatchFailure()
			rl.Error(syncrundomain.SegmentTransactionSync, "event batch dispatch failed", datatypes.JSONMap{
				"batch": i + 1,
				"size":  len(batch),
				"error": err.Error(),
				"of":    len(batches),
			})
			continue
		}
		dispatched += len(batch)
		syncMetrics.AddEventsDispatched(len(batch))
		rl.Info(syncrundomain.SegmentTransactionSync, "event batch dispatched", datatypes.JSONMap{
			"batch": i + 1,
			"size":  len(batch),
		})
	}
	return dispatched
}

// persistStates upserts sync state for every processed result, billable or
// not; meter progress must never be lost. TotalKwhBilled accumulates only
// deltas that produced an event.
func (s *Service) persistStates(ctx context.Context, processed []*ProcessedTransaction, prior map[int64]*syncrundomain.TransactionSyncState, runID snowflake.ID) error {
	if len(processed) == 0 {
		return nil
	}
	now := s.clock.Now()
	states := make([]*syncrundomain.TransactionSyncState, 0, len(processed))
	for _, p := range processed {
		var billed float64
		if prev := prior[p.Transaction.ID]; prev != nil {
			billed = prev.TotalKwhBilled
		}
		if p.Billable {
			billed += p.KwhDelta
		}
		states = append(states, &syncrundomain.TransactionSyncState{
			TransactionID:        p.Transaction.ID,
			LastSyncedMeterValue: p.MeterTo,
			TotalKwhBilled:       billed,
			IsFinalized:          p.IsFinal,
			LastSyncRunID:        runID,
			CreatedAt:            now,
			UpdatedAt:            now,
		})
	}
	return s.runs.UpsertSyncStates(ctx, s.db, states)
}

// persistLedger appends one row per processed delta, billable and
// non-billable alike, keyed by the event idempotency key.
func (s *Service) persistLedger(ctx context.Context, processed []*ProcessedTransaction, runID snowflake.ID) error {
	if len(processed) == 0 {
		return nil
	}
	now := s.clock.Now()
	rows := make([]*syncrundomain.SyncedTransactionEvent, 0, len(processed))
	for _, p := range processed {
		var mappingID *snowflake.ID
		if p.Mapping != nil {
			id := p.Mapping.ID
			mappingID = &id
		}
		rows = append(rows, &syncrundomain.SyncedTransactionEvent{
			ID:                     s.genID.Generate(),
			TransactionID:          p.Transaction.ID,
			KwhDelta:               p.KwhDelta,
			MeterValueFrom:         p.MeterFrom,
			MeterValueTo:           p.MeterTo,
			IsFinal:                p.IsFinal,
			LagoEventTransactionID: p.EventKey,
			MappingID:              mappingID,
			SyncRunID:              runID,
			CreatedAt:              now,
		})
	}
	return s.runs.InsertEvents(ctx, s.db, rows)
}

// runTagLinking runs the tag-authorization pass as its own segment. Its
// failure never fails the run.
func (s *Service) runTagLinking(ctx context.Context, tags []steve.Tag, lookup map[string]*mappingdomain.TagBillingMapping, rl *syncrun.RunLogger, counts *syncrundomain.RunCounts, runErrors *[]string) {
	result := s.syncTagStatuses(ctx, tags, lookup, rl)
	counts.TagsActivated = result.Activated
	counts.TagsDeactivated = result.Deactivated
	counts.TagsUnchanged = result.Unchanged
	*runErrors = append(*runErrors, result.Errors...)

	rl.Info(syncrundomain.SegmentTagLinking, "tag linking finished", datatypes.JSONMap{
		"activated":   result.Activated,
		"deactivated": result.Deactivated,
		"unchanged":   result.Unchanged,
		"failures":    len(result.Errors),
	})
	if err := rl.EndSegment(ctx, syncrundomain.SegmentTagLinking, ""); err != nil {
		s.log.Warn("tag linking segment flush failed", zap.Error(err))
		*runErrors = append(*runErrors, fmt.Sprintf("end tag_linking segment: %v", err))
	}
}

func (s *Service) complete(ctx context.Context, run *syncrundomain.SyncRun, counts syncrundomain.RunCounts, runErrors []string) (*RunResult, error) {
	if err := s.runs.MarkRunCompleted(ctx, s.db, run.ID, s.clock.Now(), counts, runErrors); err != nil {
		return nil, fmt.Errorf("mark run completed: %w", err)
	}
	return &RunResult{
		RunID:  run.ID,
		Counts: counts,
		Errors: runErrors,
	}, nil
}

// mergeTransactions merges the active and recently-completed sets by
// transaction id. A completed record always wins an id collision.
func mergeTransactions(active, recent []steve.Transaction) []steve.Transaction {
	byID := make(map[int64]steve.Transaction, len(active)+len(recent))
	order := make([]int64, 0, len(active)+len(recent))
	for _, tx := range active {
		if _, ok := byID[tx.ID]; !ok {
			order = append(order, tx.ID)
		}
		byID[tx.ID] = tx
	}
	for _, tx := range recent {
		existing, ok := byID[tx.ID]
		if !ok {
			order = append(order, tx.ID)
			byID[tx.ID] = tx
			continue
		}
		if tx.Completed() || !existing.Completed() {
			byID[tx.ID] = tx
		}
	}

	out := make([]steve.Transaction, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

func alreadyRunningResult() *RunResult {
	return &RunResult{
		AlreadyRunning: true,
		Errors:         []string{syncrundomain.ErrRunAlreadyInProgress.Error()},
	}
}
