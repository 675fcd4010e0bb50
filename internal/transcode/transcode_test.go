package transcode

import (
	"bytes"
	"context"
	"testing"

	"github.com/musfuse/musfuse/internal/trackindex"
)

func TestResolveProfile(t *testing.T) {
	cases := []struct {
		policy   trackindex.Policy
		lossless bool
		bitPerf  bool
		want     Profile
	}{
		{trackindex.PolicyPassthroughLossy, false, false, ProfilePassthroughLossy},
		{trackindex.PolicyConvertLossless, true, false, ProfileConvertLossless},
		{trackindex.PolicyConvertLossless, true, true, ProfilePassthroughLossless},
		{trackindex.PolicyConvertLossless, false, true, ProfileConvertLossless},
	}
	for _, c := range cases {
		got := ResolveProfile(c.policy, c.lossless, c.bitPerf)
		if got != c.want {
			t.Errorf("ResolveProfile(%v, %v, %v) = %s, want %s", c.policy, c.lossless, c.bitPerf, got, c.want)
		}
	}
}

func TestChunkReaderBoundsAndMarksFinal(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, MaxChunkBytes+10)
	out := make(chan AudioChunk, 10)

	if err := chunkReader(context.Background(), bytes.NewReader(data), 44100, out); err != nil {
		t.Fatalf("chunkReader: %v", err)
	}
	close(out)

	var chunks []AudioChunk
	for c := range out {
		chunks = append(chunks, c)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if len(chunks[0].Bytes) != MaxChunkBytes {
		t.Errorf("expected first chunk at cap, got %d", len(chunks[0].Bytes))
	}
	if !chunks[1].IsFinal {
		t.Error("expected last chunk to be final")
	}
	if chunks[0].Seq != 0 || chunks[1].Seq != 1 {
		t.Errorf("expected monotonic seq, got %d, %d", chunks[0].Seq, chunks[1].Seq)
	}
	if chunks[1].TimestampFrames < chunks[0].TimestampFrames {
		t.Error("expected non-decreasing timestamp_frames")
	}
}

func TestChunkReaderEmptyStreamEmitsOneFinalChunk(t *testing.T) {
	out := make(chan AudioChunk, 2)
	if err := chunkReader(context.Background(), bytes.NewReader(nil), 44100, out); err != nil {
		t.Fatalf("chunkReader: %v", err)
	}
	close(out)
	var chunks []AudioChunk
	for c := range out {
		chunks = append(chunks, c)
	}
	if len(chunks) != 1 || !chunks[0].IsFinal {
		t.Fatalf("expected exactly one final chunk for empty stream, got %+v", chunks)
	}
}

func TestChunkReaderCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := make(chan AudioChunk)
	err := chunkReader(ctx, bytes.NewReader([]byte("data")), 44100, out)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}
