package engine

import (
	"strconv"
	"time"

	"github.com/voltbill/chargesync/internal/lago"
)

// buildEvent maps a billable result into a platform usage event. The
// timestamp is the build-time wall clock, not session time; kWh is carried
// at full precision internally and only rounded here.
func buildEvent(p *ProcessedTransaction, metricCode string, at time.Time) lago.Event {
	return lago.Event{
		TransactionID:          p.EventKey,
		ExternalSubscriptionID: p.Mapping.LagoSubscriptionID,
		Code:                   metricCode,
		Timestamp:              at,
		Properties: map[string]string{
			"kwh": formatKwh(p.KwhDelta),
		},
	}
}

func formatKwh(kwh float64) string {
	return strconv.FormatFloat(kwh, 'f', 3, 64)
}

// chunkEvents splits events into batches of at most size; the platform
// rejects oversized batch requests outright.
func chunkEvents(events []lago.Event, size int) [][]lago.Event {
	if size <= 0 {
		size = lago.MaxEventsPerBatch
	}
	var batches [][]lago.Event
	for start := 0; start < len(events); start += size {
		end := start + size
		if end > len(events) {
			end = len(events)
		}
		batches = append(batches, events[start:end])
	}
	return batches
}
