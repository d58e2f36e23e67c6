package inference

import (
	"context"

	"github.com/thamizh-labs/palmscribe/internal/manuscript"
)

// RestoreRequest carries one restoration call. Variation is an opaque hint
// biasing a retried restoration toward a different output; Instruction is a
// free-text edit request. At most one of the two is set.
type RestoreRequest struct {
	Image       []byte
	MimeType    string
	Variation   *int
	Instruction string
}

// Restorer defines the capability to restore a manuscript image. The returned
// string is an encoded image (data URL); an empty string with a nil error
// means the service produced no image.
type Restorer interface {
	Restore(ctx context.Context, req RestoreRequest) (string, error)
}

// Analyzer defines the capability to transcribe, translate and identify a
// manuscript image. Responses are parsed into the strict Analysis shape at
// this boundary; untyped service payloads never escape it.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte, mimeType string) (*manuscript.Analysis, error)
}
