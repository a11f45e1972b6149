package tracker

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRequest(t *testing.T) {
	trk := New()
	fixed := time.UnixMilli(1700000000123)
	trk.now = func() time.Time { return fixed }

	trk.RecordRequest("k1", 100, false)
	trk.RecordRequest("k1", 50, true)

	stats, ok := trk.Get("k1")
	require.True(t, ok)
	assert.Equal(t, uint64(2), stats.RequestCount)
	assert.Equal(t, uint64(1), stats.ErrorCount)
	assert.Equal(t, uint64(150), stats.TotalLatencyMS)
	assert.Equal(t, int64(1700000000123), stats.LastRequestTimestamp)

	// Token fields belong to RecordTokens; a request alone leaves them zero.
	assert.Zero(t, stats.TotalPromptTokens)
	assert.Zero(t, stats.TotalCompletionTokens)
	assert.Empty(t, stats.ModelsUsed)
}

func TestRecordTokens(t *testing.T) {
	trk := New()

	trk.RecordTokens("k1", 10, 20, "model-a")
	trk.RecordTokens("k1", 5, 5, "model-a")
	trk.RecordTokens("k1", 1, 1, "model-b")

	stats, ok := trk.Get("k1")
	require.True(t, ok)
	assert.Equal(t, uint64(16), stats.TotalPromptTokens)
	assert.Equal(t, uint64(26), stats.TotalCompletionTokens)

	// The model histogram counts responses, not tokens.
	assert.Equal(t, uint64(2), stats.ModelsUsed["model-a"])
	assert.Equal(t, uint64(1), stats.ModelsUsed["model-b"])

	// Request fields belong to RecordRequest.
	assert.Zero(t, stats.RequestCount)
	assert.Zero(t, stats.LastRequestTimestamp)
}

func TestRecordOrderIndependence(t *testing.T) {
	// The two writers touch disjoint fields, so either arrival order
	// converges to the same final state.
	a := New()
	a.now = func() time.Time { return time.UnixMilli(42) }
	a.RecordTokens("k", 3, 5, "m")
	a.RecordRequest("k", 100, false)

	b := New()
	b.now = func() time.Time { return time.UnixMilli(42) }
	b.RecordRequest("k", 100, false)
	b.RecordTokens("k", 3, 5, "m")

	sa, _ := a.Get("k")
	sb, _ := b.Get("k")
	assert.Equal(t, sa, sb)
}

func TestGetUnknownKey(t *testing.T) {
	trk := New()
	_, ok := trk.Get("never-seen")
	assert.False(t, ok)
}

func TestAllReturnsCopies(t *testing.T) {
	trk := New()
	trk.RecordTokens("k1", 1, 1, "m")

	all := trk.All()
	all["k1"].ModelsUsed["m"] = 999

	stats, _ := trk.Get("k1")
	assert.Equal(t, uint64(1), stats.ModelsUsed["m"], "mutating a returned copy must not touch the live stats")
}

func TestConcurrentRecording(t *testing.T) {
	trk := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			trk.RecordRequest("k", 1, false)
		}()
		go func() {
			defer wg.Done()
			trk.RecordTokens("k", 1, 2, "m")
		}()
	}
	wg.Wait()

	stats, _ := trk.Get("k")
	assert.Equal(t, uint64(50), stats.RequestCount)
	assert.Equal(t, uint64(50), stats.TotalPromptTokens)
	assert.Equal(t, uint64(100), stats.TotalCompletionTokens)
	assert.Equal(t, uint64(50), stats.ModelsUsed["m"])
}

func TestSaveLoadRoundTrip(t *testing.T) {
	trk := New()
	trk.now = func() time.Time { return time.UnixMilli(1700000000123) }
	trk.RecordRequest("key-one", 120, false)
	trk.RecordRequest("key-one", 80, true)
	trk.RecordTokens("key-one", 30, 70, "model-a")
	trk.RecordTokens("key-two", 5, 5, "model-b")

	path := filepath.Join(t.TempDir(), "stats.json")
	require.NoError(t, trk.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, trk.All(), loaded.All())
}

func TestSaveOnDiskShape(t *testing.T) {
	trk := New()
	trk.RecordTokens("k", 1, 2, "m")

	path := filepath.Join(t.TempDir(), "stats.json")
	require.NoError(t, trk.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// Top-level "stats" object, per-key counters inside.
	assert.Contains(t, string(data), `"stats"`)
	assert.Contains(t, string(data), `"total_prompt_tokens": 1`)
	assert.Contains(t, string(data), `"total_completion_tokens": 2`)

	// No leftover temp files from the write-then-rename dance.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadedTrackerKeepsCounting(t *testing.T) {
	trk := New()
	trk.RecordTokens("k", 1, 1, "m")

	path := filepath.Join(t.TempDir(), "stats.json")
	require.NoError(t, trk.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)

	// Counters picked up where the previous process left off.
	loaded.RecordTokens("k", 1, 1, "m")
	loaded.RecordRequest("k2", 10, false)

	stats, _ := loaded.Get("k")
	assert.Equal(t, uint64(2), stats.TotalPromptTokens)
	assert.Equal(t, uint64(2), stats.ModelsUsed["m"])
}
