package pipeline

import (
	"fmt"
	"math"
	"time"

	"github.com/voxscribe/voxscribe/internal/runtime"
)

// Token buckets tracked by the cost tracker.
const (
	bucketClaudeInput      = "claude_input"
	bucketClaudeOutput     = "claude_output"
	bucketClaudeCacheWrite = "claude_cache_creation"
	bucketClaudeCacheRead  = "claude_cache_read"
	bucketGeminiInput      = "gemini_input"
	bucketGeminiOutput     = "gemini_output"
)

// pricePerMTok is the fixed pricing table in USD per million tokens.
var pricePerMTok = map[string]float64{
	bucketClaudeInput:      3.00,
	bucketClaudeOutput:     15.00,
	bucketClaudeCacheWrite: 3.75,
	bucketClaudeCacheRead:  0.30,
	bucketGeminiInput:      0.30,
	bucketGeminiOutput:     2.50,
}

const (
	// fingerprintCap bounds the hash-window dedup set (FIFO eviction).
	fingerprintCap = 2000

	// fingerprintBucket is the wall-clock window for usage fingerprints of
	// messages without stable IDs.
	fingerprintBucket = 15 * time.Second
)

// BucketCost is one line of the cost breakdown.
type BucketCost struct {
	Tokens  int64   `json:"tokens"`
	CostUSD float64 `json:"costUSD"`
}

// Summary is a priced view of accumulated usage.
type Summary struct {
	TotalTokens      int64                 `json:"totalTokens"`
	EstimatedCostUSD float64               `json:"estimatedCostUSD"`
	Breakdown        map[string]BucketCost `json:"breakdown"`
}

// CostTracker accumulates token usage across the message stream with
// per-message deduplication. Single-writer: the driver goroutine is the
// only caller, so the tracker does not lock.
type CostTracker struct {
	tokens map[string]int64

	seenIDs map[string]struct{}

	fingerprints map[string]struct{}
	fifo         []string

	now func() time.Time
}

// NewCostTracker creates an empty tracker.
func NewCostTracker() *CostTracker {
	return &CostTracker{
		tokens:       make(map[string]int64, 6),
		seenIDs:      make(map[string]struct{}),
		fingerprints: make(map[string]struct{}),
		now:          time.Now,
	}
}

// Record folds one upstream message's usage block into the counters.
// Messages with a stable ID are deduplicated exactly; messages without one
// are deduplicated approximately via a usage fingerprint bucketed by a
// 15-second wall-clock window. Returns true if usage was counted.
func (t *CostTracker) Record(m runtime.Message) bool {
	if m.Usage == nil {
		return false
	}

	if m.ID != "" {
		if _, seen := t.seenIDs[m.ID]; seen {
			return false
		}
		t.seenIDs[m.ID] = struct{}{}
	} else {
		ts := m.Timestamp
		if ts.IsZero() {
			ts = t.now()
		}
		fp := fmt.Sprintf("%d|%d|%d|%d|%d",
			ts.Unix()/int64(fingerprintBucket/time.Second),
			m.Usage.InputTokens, m.Usage.OutputTokens,
			m.Usage.CacheCreationInputTokens, m.Usage.CacheReadInputTokens)
		if _, seen := t.fingerprints[fp]; seen {
			return false
		}
		t.fingerprints[fp] = struct{}{}
		t.fifo = append(t.fifo, fp)
		if len(t.fifo) > fingerprintCap {
			delete(t.fingerprints, t.fifo[0])
			t.fifo = t.fifo[1:]
		}
	}

	t.tokens[bucketClaudeInput] += int64(m.Usage.InputTokens)
	t.tokens[bucketClaudeOutput] += int64(m.Usage.OutputTokens)
	t.tokens[bucketClaudeCacheWrite] += int64(m.Usage.CacheCreationInputTokens)
	t.tokens[bucketClaudeCacheRead] += int64(m.Usage.CacheReadInputTokens)
	return true
}

// RecordTranscription attributes transcription-model usage, parsed from
// tool results, to the gemini buckets. Not deduplicated: each tool result
// is counted once by the driver.
func (t *CostTracker) RecordTranscription(inputTokens, outputTokens int) {
	if inputTokens > 0 {
		t.tokens[bucketGeminiInput] += int64(inputTokens)
	}
	if outputTokens > 0 {
		t.tokens[bucketGeminiOutput] += int64(outputTokens)
	}
}

// Summary prices the accumulated usage. Per-bucket costs are rounded to
// four decimals; the total is the unrounded sum.
func (t *CostTracker) Summary() Summary {
	s := Summary{Breakdown: make(map[string]BucketCost, len(pricePerMTok))}
	for bucket, price := range pricePerMTok {
		n := t.tokens[bucket]
		cost := float64(n) * price / 1e6
		s.TotalTokens += n
		s.EstimatedCostUSD += cost
		s.Breakdown[bucket] = BucketCost{
			Tokens:  n,
			CostUSD: math.Round(cost*1e4) / 1e4,
		}
	}
	return s
}

// Reset clears all counters and dedup state.
func (t *CostTracker) Reset() {
	t.tokens = make(map[string]int64, 6)
	t.seenIDs = make(map[string]struct{})
	t.fingerprints = make(map[string]struct{})
	t.fifo = nil
}
