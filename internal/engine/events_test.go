package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voltbill/chargesync/internal/lago"
)

func TestBuildEvent(t *testing.T) {
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	p := &ProcessedTransaction{
		Mapping:  billableMapping(),
		KwhDelta: 4.0,
		EventKey: "steve_tx_2_sync_99",
	}

	event := buildEvent(p, "energy_kwh", at)

	assert.Equal(t, "steve_tx_2_sync_99", event.TransactionID)
	assert.Equal(t, "sub_1", event.ExternalSubscriptionID)
	assert.Equal(t, "energy_kwh", event.Code)
	assert.Equal(t, at, event.Timestamp)
	assert.Equal(t, "4.000", event.Properties["kwh"])
}

func TestFormatKwh(t *testing.T) {
	tests := []struct {
		kwh  float64
		want string
	}{
		{4, "4.000"},
		{1.5, "1.500"},
		{0.0004, "0.000"},
		{12.3456, "12.346"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatKwh(tt.kwh))
	}
}

func TestChunkEvents(t *testing.T) {
	makeEvents := func(n int) []lago.Event {
		events := make([]lago.Event, n)
		for i := range events {
			events[i].TransactionID = fmt.Sprintf("tx_%d", i)
		}
		return events
	}

	tests := []struct {
		name      string
		total     int
		size      int
		wantSizes []int
	}{
		{"empty", 0, 100, nil},
		{"single partial batch", 3, 100, []int{3}},
		{"exact multiple", 200, 100, []int{100, 100}},
		{"remainder", 205, 100, []int{100, 100, 5}},
		{"zero size falls back to platform cap", 150, 0, []int{100, 50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches := chunkEvents(makeEvents(tt.total), tt.size)
			require.Len(t, batches, len(tt.wantSizes))

			seen := 0
			for i, batch := range batches {
				assert.Equal(t, tt.wantSizes[i], len(batch))
				assert.LessOrEqual(t, len(batch), lago.MaxEventsPerBatch)
				seen += len(batch)
			}
			assert.Equal(t, tt.total, seen)
		})
	}
}
