package pipeline

import (
	"encoding/json"
	"sort"
	"strings"
	"unicode/utf8"
)

// PreviewLimit caps the transcript preview carried in transcript_chunk
// events.
const PreviewLimit = 1500

// TranscriptionPayload is the typed projection of a transcription tool
// result. Pointer fields distinguish absent from zero; NextChunk keeps the
// raw JSON so null and absent stay distinguishable.
type TranscriptionPayload struct {
	Transcript      string `json:"transcript"`
	Segments        []struct {
		Text string `json:"text"`
	} `json:"segments"`
	ProcessedChunks *int            `json:"processedChunks"`
	TotalChunks     *int            `json:"totalChunks"`
	StartChunk      *int            `json:"startChunk"`
	NextChunk       json.RawMessage `json:"nextChunk"`

	// Usage of the transcription model, when the tool reports it.
	Usage *struct {
		InputTokens  int `json:"inputTokens"`
		OutputTokens int `json:"outputTokens"`
	} `json:"usage"`
}

// nextChunkValue decodes NextChunk: (value, isNull, present).
func (p *TranscriptionPayload) nextChunkValue() (int, bool, bool) {
	raw := strings.TrimSpace(string(p.NextChunk))
	if raw == "" {
		return 0, false, false
	}
	if raw == "null" {
		return 0, true, true
	}
	var n int
	if err := json.Unmarshal(p.NextChunk, &n); err != nil {
		return 0, false, false
	}
	return n, false, true
}

// TranscriptAggregator folds chunked transcription tool results into
// (processed, total, preview) progress state. Total 0 means unknown.
// Folding is idempotent: the same payload applied twice leaves the state
// unchanged.
type TranscriptAggregator struct {
	processed int
	total     int
	snippets  map[int]string
	preview   string
}

// NewTranscriptAggregator creates an empty aggregator.
func NewTranscriptAggregator() *TranscriptAggregator {
	return &TranscriptAggregator{snippets: make(map[int]string)}
}

// Update folds one payload and reports whether anything changed.
func (a *TranscriptAggregator) Update(p TranscriptionPayload) {
	if p.TotalChunks != nil && *p.TotalChunks > a.total {
		a.total = *p.TotalChunks
	}

	start := 0
	if p.StartChunk != nil {
		start = *p.StartChunk
	}
	if p.ProcessedChunks != nil {
		if done := start + *p.ProcessedChunks; done > a.processed {
			a.processed = done
		}
	} else if p.StartChunk != nil && start > a.processed {
		a.processed = start
	}

	if nxt, isNull, present := p.nextChunkValue(); present {
		if isNull {
			if a.total == 0 && a.processed > 0 {
				a.total = a.processed
			}
		} else if nxt+1 > a.total {
			a.total = nxt + 1
		}
	}

	text := p.Transcript
	if text == "" && len(p.Segments) > 0 {
		parts := make([]string, 0, len(p.Segments))
		for _, seg := range p.Segments {
			parts = append(parts, seg.Text)
		}
		text = strings.Join(parts, "\n")
	}

	if text != "" {
		if p.StartChunk != nil {
			a.snippets[*p.StartChunk] = text
		} else {
			// No chunk index: treat as a full replacement.
			a.snippets = map[int]string{0: text}
		}
		a.rebuildPreview()
	}
}

func (a *TranscriptAggregator) rebuildPreview() {
	keys := make([]int, 0, len(a.snippets))
	for k := range a.snippets {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, a.snippets[k])
	}
	joined := strings.Join(parts, "\n\n")
	if len(joined) > PreviewLimit {
		cut := PreviewLimit
		// Back off to a rune boundary so a multi-byte character is never
		// split mid-sequence.
		for cut > 0 && !utf8.RuneStart(joined[cut]) {
			cut--
		}
		joined = joined[:cut]
	}
	a.preview = joined
}

// Snapshot returns the current (processed, total, preview) state.
func (a *TranscriptAggregator) Snapshot() (processed, total int, preview string) {
	return a.processed, a.total, a.preview
}
