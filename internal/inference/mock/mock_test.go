package mock

import (
	"context"
	"testing"
	"time"

	"github.com/thamizh-labs/palmscribe/internal/config"
	"github.com/thamizh-labs/palmscribe/internal/inference"
	"github.com/thamizh-labs/palmscribe/internal/manuscript"
)

func TestMock_RestoreEchoesImage(t *testing.T) {
	c := New(config.MockSettings{Delay: 0})
	out, err := c.Restore(context.Background(), inference.RestoreRequest{Image: []byte("leaf"), MimeType: "image/png"})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	mime, data, err := manuscript.ParseImage(out)
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}
	if mime != "image/png" || string(data) != "leaf" {
		t.Fatalf("echo mismatch: %q %q", mime, data)
	}
}

func TestMock_AnalyzeReturnsStructuredResult(t *testing.T) {
	c := New(config.MockSettings{Delay: 0})
	a, err := c.Analyze(context.Background(), []byte("leaf"), "image/jpeg")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if a.Transcription == "" || a.SourceInfo.DetectedSource == "" {
		t.Fatalf("incomplete analysis: %+v", a)
	}
}

func TestMock_FailureFlags(t *testing.T) {
	c := New(config.MockSettings{FailRestore: true, FailAnalyze: true})
	if _, err := c.Restore(context.Background(), inference.RestoreRequest{Image: []byte("x"), MimeType: "image/png"}); err == nil {
		t.Fatalf("expected forced restore failure")
	}
	if _, err := c.Analyze(context.Background(), []byte("x"), "image/png"); err == nil {
		t.Fatalf("expected forced analyze failure")
	}
}

func TestMock_RespectsContextCancel(t *testing.T) {
	c := New(config.MockSettings{Delay: 200 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	if _, err := c.Restore(ctx, inference.RestoreRequest{Image: []byte("x"), MimeType: "image/png"}); err == nil {
		t.Fatalf("expected context cancellation error")
	}
}
