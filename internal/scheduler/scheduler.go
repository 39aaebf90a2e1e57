package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/voltbill/chargesync/internal/engine"
	"github.com/voltbill/chargesync/internal/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: missing required dependency")

// Trigger sources recorded on each sync attempt.
const (
	TriggerSourceCron    = "cron"
	TriggerSourceStartup = "startup"
	TriggerSourceManual  = "manual"
)

// TriggerMessage is the payload published on the trigger channel to
// request an out-of-schedule sync run.
type TriggerMessage struct {
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Runner executes one sync run. Satisfied by the engine service.
type Runner interface {
	Run(ctx context.Context) (*engine.RunResult, error)
}

type Params struct {
	fx.In

	Log    *zap.Logger
	Runner Runner
	Redis  *redis.Client `optional:"true"`
	Config Config        `optional:"true"`
}

// Scheduler fires sync runs from a cron schedule and from manual triggers
// published on a redis channel. Overlapping triggers within one process
// are coalesced; cross-instance overlap is the engine's concern.
type Scheduler struct {
	log    *zap.Logger
	cfg    Config
	runner Runner
	redis  *redis.Client

	cron    *cron.Cron
	running atomic.Bool
	wg      sync.WaitGroup

	// runCancel tears down the run context after shutdown has drained;
	// consumerCancel stops only the trigger consumer.
	runCancel      context.CancelFunc
	consumerCancel context.CancelFunc
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Runner == nil {
		return nil, ErrInvalidConfig
	}
	log := p.Log.Named("scheduler").With(zap.String("component", "scheduler"))
	cronLog := cronLogger{log: log.Named("cron")}
	return &Scheduler{
		log:    log,
		cfg:    p.Config.withDefaults(),
		runner: p.Runner,
		redis:  p.Redis,
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLog),
			cron.SkipIfStillRunning(cronLog),
		)),
	}, nil
}

// Start registers the cron entry and, when redis is configured, the
// trigger channel consumer. Jobs run on a background context detached
// from the fx start context; Stop never cancels it while a run is in
// flight.
func (s *Scheduler) Start() error {
	runCtx, runCancel := context.WithCancel(context.Background())
	s.runCancel = runCancel

	if _, err := s.cron.AddFunc(s.cfg.CronSpec, func() {
		s.Trigger(runCtx, TriggerSourceCron)
	}); err != nil {
		runCancel()
		return err
	}
	s.cron.Start()
	s.log.Info("cron schedule registered", zap.String("spec", s.cfg.CronSpec))

	if s.redis != nil {
		consumerCtx, consumerCancel := context.WithCancel(context.Background())
		s.consumerCancel = consumerCancel
		s.wg.Add(1)
		go s.consumeTriggers(consumerCtx, runCtx)
	}

	if s.cfg.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Trigger(runCtx, TriggerSourceStartup)
		}()
	}
	return nil
}

// Stop blocks new invocations and waits for in-flight work to finish,
// bounded by ctx. The run context stays live until the drain completes;
// a run is abandoned mid-flight only when the shutdown deadline expires
// first.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.consumerCancel != nil {
		s.consumerCancel()
	}
	if s.runCancel != nil {
		defer s.runCancel()
	}

	cronCtx := s.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger attempts one sync run. A trigger arriving while a run is in
// flight in this process is counted and dropped.
func (s *Scheduler) Trigger(ctx context.Context, source string) {
	metrics.Sync().IncTriggerReceived(source)

	if !s.running.CompareAndSwap(false, true) {
		s.log.Info("sync trigger ignored, run already in flight", zap.String("source", source))
		return
	}
	defer s.running.Store(false)

	log := s.log.With(zap.String("source", source))
	log.Info("sync triggered")

	result, err := s.runner.Run(ctx)
	if err != nil {
		log.Error("sync run failed", zap.Error(err))
		return
	}
	if result.AlreadyRunning {
		log.Info("sync skipped, run already in progress")
		return
	}
	log.Info("sync run completed",
		zap.String("run_id", result.RunID.String()),
		zap.Int("transactions_processed", result.Counts.TransactionsProcessed),
		zap.Int("events_created", result.Counts.EventsCreated),
		zap.Int("run_errors", len(result.Errors)),
	)
}

// consumeTriggers listens under its own consumer context so shutdown can
// stop intake without touching runs already started under runCtx.
func (s *Scheduler) consumeTriggers(ctx, runCtx context.Context) {
	defer s.wg.Done()

	sub := s.redis.Subscribe(ctx, s.cfg.TriggerChannel)
	defer func() {
		if err := sub.Close(); err != nil {
			s.log.Warn("trigger subscription close failed", zap.Error(err))
		}
	}()
	s.log.Info("listening for manual triggers", zap.String("channel", s.cfg.TriggerChannel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.handleTriggerPayload(runCtx, msg.Payload)
		}
	}
}

// handleTriggerPayload parses one published message. Malformed payloads
// are logged and dropped; they never crash the consumer.
func (s *Scheduler) handleTriggerPayload(ctx context.Context, payload string) {
	var trigger TriggerMessage
	if err := json.Unmarshal([]byte(payload), &trigger); err != nil {
		s.log.Warn("dropping malformed trigger payload",
			zap.String("payload", payload),
			zap.Error(err),
		)
		return
	}
	source := trigger.Source
	if source == "" {
		source = TriggerSourceManual
	}
	s.Trigger(ctx, source)
}

// cronLogger adapts zap to the cron logger contract.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Sugar().Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Sugar().Errorw(msg, append([]any{"error", err}, keysAndValues...)...)
}
