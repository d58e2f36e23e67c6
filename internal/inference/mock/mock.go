package mock

import (
	"context"
	"fmt"
	"time"

	"github.com/thamizh-labs/palmscribe/internal/config"
	"github.com/thamizh-labs/palmscribe/internal/inference"
	"github.com/thamizh-labs/palmscribe/internal/manuscript"
)

var (
	_ inference.Restorer = (*Client)(nil)
	_ inference.Analyzer = (*Client)(nil)
)

// Client is an in-process inference provider for development and tests. It
// echoes the submitted image back as the "restoration" and returns a canned
// analysis, after an optional configurable delay.
type Client struct {
	delay       time.Duration
	failRestore bool
	failAnalyze bool
}

func New(cfg config.MockSettings) *Client {
	return &Client{
		delay:       cfg.Delay,
		failRestore: cfg.FailRestore,
		failAnalyze: cfg.FailAnalyze,
	}
}

func (c *Client) Restore(ctx context.Context, req inference.RestoreRequest) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	if c.failRestore {
		return "", fmt.Errorf("mock restore failure")
	}
	if len(req.Image) == 0 {
		return "", fmt.Errorf("image is empty")
	}
	return manuscript.EncodeImage(req.MimeType, req.Image), nil
}

func (c *Client) Analyze(ctx context.Context, image []byte, mimeType string) (*manuscript.Analysis, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	if c.failAnalyze {
		return nil, fmt.Errorf("mock analyze failure")
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("image is empty")
	}
	return &manuscript.Analysis{
		Transcription: fmt.Sprintf("mock transcription (%s, %d bytes)", mimeType, len(image)),
		Translation:   "mock translation",
		RawOCR:        "mock raw ocr",
		SourceInfo: manuscript.SourceInfo{
			DetectedSource:   "Unidentified",
			Section:          "n/a",
			BriefExplanation: "mock analysis output",
		},
	}, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
