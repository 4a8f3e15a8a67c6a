package usage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seralys/lorekeeper/internal/engine"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRecordAndSummary(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	l.Record(ctx, engine.CallRecord{RequestID: "r1", Provider: "openai", Model: "gpt-4o", TotalTokens: 100, LatencyMS: 250, Attempts: 1, Outcome: "ok"})
	l.Record(ctx, engine.CallRecord{RequestID: "r2", Provider: "openai", Model: "gpt-4o", TotalTokens: 40, LatencyMS: 150, Attempts: 2, Outcome: "error"})
	l.Record(ctx, engine.CallRecord{RequestID: "r3", Provider: "gemini", Model: "gemini-1.5-pro", TotalTokens: 60, LatencyMS: 400, Attempts: 1, Outcome: "ok"})

	summary, err := l.Summary(ctx)
	require.NoError(t, err)
	require.Len(t, summary, 2)

	assert.Equal(t, "openai", summary[0].Provider)
	assert.Equal(t, 2, summary[0].Calls)
	assert.Equal(t, 140, summary[0].TotalTokens)
	assert.Equal(t, 200, summary[0].AvgLatencyMS)
	assert.Equal(t, 1, summary[0].Errors)

	assert.Equal(t, "gemini", summary[1].Provider)
	assert.Equal(t, 1, summary[1].Calls)
	assert.Equal(t, 0, summary[1].Errors)
}

func TestRecentOrderAndLimit(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		l.Record(ctx, engine.CallRecord{RequestID: id, Provider: "openai", Model: "gpt-4o", Outcome: "ok"})
	}

	rows, err := l.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "c", rows[0].RequestID)
	assert.Equal(t, "b", rows[1].RequestID)
	assert.False(t, rows[0].CreatedAt.IsZero())
}

func TestRecentEmpty(t *testing.T) {
	l := openTestLedger(t)
	rows, err := l.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
