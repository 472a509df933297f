package pipeline

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"
)

func mustPayload(t *testing.T, raw string) TranscriptionPayload {
	t.Helper()
	var p TranscriptionPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return p
}

func TestTranscriptAggregatorChunkedFolding(t *testing.T) {
	t.Parallel()

	a := NewTranscriptAggregator()

	a.Update(mustPayload(t, `{"transcript":"a","startChunk":0,"processedChunks":2,"totalChunks":3,"nextChunk":2}`))
	if p, total, preview := a.Snapshot(); p != 2 || total != 3 || preview != "a" {
		t.Fatalf("after chunk 0: (%d,%d,%q)", p, total, preview)
	}

	a.Update(mustPayload(t, `{"transcript":"b","startChunk":2,"processedChunks":1,"nextChunk":null}`))
	p, total, preview := a.Snapshot()
	if p != 3 || total != 3 {
		t.Errorf("progress = (%d,%d), want (3,3)", p, total)
	}
	if preview != "a\n\nb" {
		t.Errorf("preview = %q, want %q", preview, "a\n\nb")
	}
}

func TestTranscriptAggregatorIdempotent(t *testing.T) {
	t.Parallel()

	a := NewTranscriptAggregator()
	payload := mustPayload(t, `{"transcript":"a","startChunk":0,"processedChunks":2,"totalChunks":3}`)
	a.Update(payload)
	a.Update(payload)
	if p, total, preview := a.Snapshot(); p != 2 || total != 3 || preview != "a" {
		t.Errorf("after replay: (%d,%d,%q)", p, total, preview)
	}
}

func TestTranscriptAggregatorSegmentsJoin(t *testing.T) {
	t.Parallel()

	a := NewTranscriptAggregator()
	a.Update(mustPayload(t, `{"segments":[{"text":"one"},{"text":"two"}],"startChunk":0,"processedChunks":1}`))
	if _, _, preview := a.Snapshot(); preview != "one\ntwo" {
		t.Errorf("preview = %q, want %q", preview, "one\ntwo")
	}
}

func TestTranscriptAggregatorNullNextChunkInfersTotal(t *testing.T) {
	t.Parallel()

	a := NewTranscriptAggregator()
	a.Update(mustPayload(t, `{"transcript":"x","startChunk":0,"processedChunks":2,"nextChunk":null}`))
	if p, total, _ := a.Snapshot(); p != 2 || total != 2 {
		t.Errorf("progress = (%d,%d), want (2,2)", p, total)
	}
}

func TestTranscriptAggregatorNumericNextChunkRaisesTotal(t *testing.T) {
	t.Parallel()

	a := NewTranscriptAggregator()
	a.Update(mustPayload(t, `{"transcript":"x","startChunk":0,"processedChunks":1,"nextChunk":4}`))
	if _, total, _ := a.Snapshot(); total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
}

func TestTranscriptAggregatorNoChunkIndexReplaces(t *testing.T) {
	t.Parallel()

	a := NewTranscriptAggregator()
	a.Update(mustPayload(t, `{"transcript":"old","startChunk":0,"processedChunks":1}`))
	a.Update(mustPayload(t, `{"transcript":"full replacement"}`))
	if _, _, preview := a.Snapshot(); preview != "full replacement" {
		t.Errorf("preview = %q", preview)
	}
}

func TestTranscriptAggregatorPreviewCap(t *testing.T) {
	t.Parallel()

	long := make([]byte, PreviewLimit+500)
	for i := range long {
		long[i] = 'x'
	}
	a := NewTranscriptAggregator()
	a.Update(TranscriptionPayload{Transcript: string(long)})
	if _, _, preview := a.Snapshot(); len(preview) != PreviewLimit {
		t.Errorf("preview length = %d, want %d", len(preview), PreviewLimit)
	}
}

func TestTranscriptAggregatorPreviewCapKeepsRunesWhole(t *testing.T) {
	t.Parallel()

	// Three-byte runes guarantee the byte cap lands mid-character.
	long := strings.Repeat("あ", PreviewLimit/3+200)
	a := NewTranscriptAggregator()
	a.Update(TranscriptionPayload{Transcript: long})

	_, _, preview := a.Snapshot()
	if len(preview) > PreviewLimit {
		t.Fatalf("preview length = %d, want <= %d", len(preview), PreviewLimit)
	}
	if !utf8.ValidString(preview) {
		t.Fatal("preview truncation split a rune")
	}
	if preview == "" {
		t.Fatal("preview emptied by truncation")
	}
}

func TestTranscriptAggregatorProgressNeverRegresses(t *testing.T) {
	t.Parallel()

	a := NewTranscriptAggregator()
	a.Update(mustPayload(t, `{"transcript":"a","startChunk":0,"processedChunks":5,"totalChunks":6}`))
	a.Update(mustPayload(t, `{"transcript":"b","startChunk":1,"processedChunks":1,"totalChunks":2}`))
	if p, total, _ := a.Snapshot(); p != 5 || total != 6 {
		t.Errorf("progress = (%d,%d), want (5,6)", p, total)
	}
}
