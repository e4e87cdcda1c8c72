package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
	})
}

func TestSheetCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(sheetOperations, sheetSyncDuration, sheetRowsWritten)

	ObserveSheetOperation("sync_all", "ok")
	ObserveSheetOperation("sync_all", "ok")
	ObserveSheetOperation("delete_row", "not_found")
	ObserveSheetSync(150*time.Millisecond, 7)

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := make(map[string]int)
	for _, mf := range families {
		byName[mf.GetName()] = len(mf.GetMetric())
	}
	assert.Equal(t, 2, byName["fieldops_sheet_operations_total"])
	assert.Equal(t, 1, byName["fieldops_sheet_sync_duration_seconds"])
	assert.Equal(t, 1, byName["fieldops_sheet_rows_written"])

	for _, mf := range families {
		if mf.GetName() == "fieldops_sheet_rows_written" {
			assert.Equal(t, float64(7), mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
}
