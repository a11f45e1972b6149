// Package tracker maintains per-API-key usage statistics and persists them
// across restarts.
package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// KeyStats holds the cumulative counters for one API key. All counters are
// monotonically non-decreasing for the lifetime of the process — nothing
// ever resets them. The JSON tags double as the on-disk schema, so renaming
// a field here is a format change.
type KeyStats struct {
	RequestCount          uint64            `json:"request_count"`
	ErrorCount            uint64            `json:"error_count"`
	TotalLatencyMS        uint64            `json:"total_latency_ms"`
	TotalPromptTokens     uint64            `json:"total_prompt_tokens"`
	TotalCompletionTokens uint64            `json:"total_completion_tokens"`
	ModelsUsed            map[string]uint64 `json:"models_used"`

	// LastRequestTimestamp is unix milliseconds, both in memory and on
	// disk. Zero means "never seen a completed request" (a key that has
	// only recorded tokens so far).
	LastRequestTimestamp int64 `json:"last_request_timestamp"`
}

func newKeyStats() *KeyStats {
	return &KeyStats{ModelsUsed: make(map[string]uint64)}
}

// clone deep-copies the stats so readers never share the live map.
func (s *KeyStats) clone() KeyStats {
	out := *s
	out.ModelsUsed = make(map[string]uint64, len(s.ModelsUsed))
	for m, n := range s.ModelsUsed {
		out.ModelsUsed[m] = n
	}
	return out
}

// Tracker is a thread-safe store of KeyStats, written to from two
// independent call sites: the tracking middleware (RecordRequest, once per
// request) and the chat handler (RecordTokens, once per response carrying
// usage). Both create the key's entry on first touch, so the two calls can
// land in either order and converge to the same state.
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*KeyStats

	// now is swappable so tests can pin timestamps.
	now func() time.Time
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{
		stats: make(map[string]*KeyStats),
		now:   time.Now,
	}
}

// RecordRequest records one completed request: the request counter, the
// latency sum, the last-seen timestamp, and (for 5xx outcomes) the error
// counter. Token fields are untouched — those belong to RecordTokens.
func (t *Tracker) RecordRequest(apiKey string, latencyMS uint64, isError bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.getOrCreateLocked(apiKey)
	s.RequestCount++
	s.TotalLatencyMS += latencyMS
	s.LastRequestTimestamp = t.now().UnixMilli()
	if isError {
		s.ErrorCount++
	}
}

// RecordTokens records token usage attributed to one response. The model
// histogram counts responses, not tokens: one increment per call,
// regardless of how many tokens the response carried. Request/latency
// counters and the timestamp are untouched.
func (t *Tracker) RecordTokens(apiKey string, promptTokens, completionTokens uint64, model string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.getOrCreateLocked(apiKey)
	s.TotalPromptTokens += promptTokens
	s.TotalCompletionTokens += completionTokens
	s.ModelsUsed[model]++
}

// getOrCreateLocked returns the live entry for apiKey, creating a zeroed
// one on first touch. Caller must hold the write lock.
func (t *Tracker) getOrCreateLocked(apiKey string) *KeyStats {
	s, ok := t.stats[apiKey]
	if !ok {
		s = newKeyStats()
		t.stats[apiKey] = s
	}
	return s
}

// Get returns a copy of the stats for one key, and whether the key exists.
func (t *Tracker) Get(apiKey string) (KeyStats, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.stats[apiKey]
	if !ok {
		return KeyStats{}, false
	}
	return s.clone(), true
}

// All returns a copy of every key's stats.
func (t *Tracker) All() map[string]KeyStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]KeyStats, len(t.stats))
	for k, s := range t.stats {
		out[k] = s.clone()
	}
	return out
}

// ---------------------------------------------------------------------------
// Persistence
// ---------------------------------------------------------------------------

// state is the on-disk JSON form: { "stats": { "<key>": KeyStats } }.
type state struct {
	Stats map[string]*KeyStats `json:"stats"`
}

// Save serializes the full state to path as pretty-printed JSON. The write
// goes to a temp file in the same directory first and is renamed into
// place, so a crash mid-write can't leave a corrupt stats file behind.
func (t *Tracker) Save(path string) error {
	t.mu.RLock()
	data, err := json.MarshalIndent(state{Stats: t.stats}, "", "  ")
	t.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshaling tracker state: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp stats file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing stats file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing stats file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing stats file: %w", err)
	}
	return nil
}

// Load reads a tracker state previously written by Save. A missing or
// unparseable file is an error — the caller decides whether to start
// fresh (main does, with a log line).
func Load(path string) (*Tracker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading stats file: %w", err)
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing stats file: %w", err)
	}

	t := New()
	for k, s := range st.Stats {
		if s.ModelsUsed == nil {
			s.ModelsUsed = make(map[string]uint64)
		}
		t.stats[k] = s
	}
	return t, nil
}
