package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	mappingdomain "github.com/voltbill/chargesync/internal/mapping/domain"
	"github.com/voltbill/chargesync/internal/steve"
	syncrundomain "github.com/voltbill/chargesync/internal/syncrun/domain"
)

// ProcessedTransaction is one strictly positive energy delta attributed to
// a mapping. Billable results feed the event builder; non-billable ones
// still update sync state and the ledger.
type ProcessedTransaction struct {
	Transaction steve.Transaction
	Mapping     *mappingdomain.TagBillingMapping
	MeterFrom   int64
	MeterTo     int64
	KwhDelta    float64
	IsFinal     bool
	Billable    bool
	EventKey    string
}

// EventKey builds the idempotency key for one (transaction, run) pair. The
// billing platform deduplicates on it, so retrying the same run never
// double-bills; a new run intentionally produces a fresh key.
func EventKey(prefix string, transactionID int64, runID snowflake.ID) string {
	return fmt.Sprintf("%s_tx_%d_sync_%s", prefix, transactionID, runID)
}

// DeltaProcessor turns raw meter readings into incremental deltas against
// previously recorded state.
type DeltaProcessor struct {
	prefix string
}

func NewDeltaProcessor(prefix string) *DeltaProcessor {
	return &DeltaProcessor{prefix: prefix}
}

// Process applies one poll of a transaction against its stored state and
// resolved mapping. It returns nil when the transaction contributes
// nothing this poll: finalized state, no mapping, or a non-positive delta.
func (p *DeltaProcessor) Process(
	tx steve.Transaction,
	state *syncrundomain.TransactionSyncState,
	mapping *mappingdomain.TagBillingMapping,
	runID snowflake.ID,
) (*ProcessedTransaction, error) {
	if state != nil && state.IsFinalized {
		return nil, nil
	}
	if mapping == nil {
		return nil, nil
	}

	startValue, err := meterValue(tx.StartValue)
	if err != nil {
		return nil, fmt.Errorf("transaction %d: start value: %w", tx.ID, err)
	}

	base := startValue
	if state != nil {
		base = state.LastSyncedMeterValue
	}

	current, err := currentMeterValue(tx, startValue)
	if err != nil {
		return nil, fmt.Errorf("transaction %d: %w", tx.ID, err)
	}

	delta := current - base
	if delta <= 0 {
		// Negative deltas cannot occur under correct backend behavior;
		// either way this poll is a no-op, not an error.
		return nil, nil
	}

	return &ProcessedTransaction{
		Transaction: tx,
		Mapping:     mapping,
		MeterFrom:   base,
		MeterTo:     current,
		KwhDelta:    float64(delta) / 1000,
		IsFinal:     tx.Completed(),
		Billable:    mapping.Billable(),
		EventKey:    EventKey(p.prefix, tx.ID, runID),
	}, nil
}

// ProcessAll runs every candidate transaction through Process once,
// collecting per-transaction validation errors without aborting the batch.
func (p *DeltaProcessor) ProcessAll(
	transactions []steve.Transaction,
	states map[int64]*syncrundomain.TransactionSyncState,
	lookup map[string]*mappingdomain.TagBillingMapping,
	runID snowflake.ID,
) ([]*ProcessedTransaction, []error) {
	var processed []*ProcessedTransaction
	var errs []error
	for _, tx := range transactions {
		result, err := p.Process(tx, states[tx.ID], lookup[tx.OcppIDTag], runID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if result != nil {
			processed = append(processed, result)
		}
	}
	return processed, errs
}

// currentMeterValue picks the freshest reading: stop value for a completed
// session, otherwise the latest reported value, otherwise the start value.
func currentMeterValue(tx steve.Transaction, startValue int64) (int64, error) {
	if tx.Completed() {
		if tx.StopValue == nil {
			return 0, fmt.Errorf("completed without stop value")
		}
		return meterValue(*tx.StopValue)
	}
	if tx.LastMeterValue != nil && strings.TrimSpace(*tx.LastMeterValue) != "" {
		return meterValue(*tx.LastMeterValue)
	}
	return startValue, nil
}

func meterValue(raw string) (int64, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed meter value %q", raw)
	}
	return value, nil
}
