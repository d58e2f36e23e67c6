package storage

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/thamizh-labs/palmscribe/internal/common"
)

// Intake validates uploaded manuscript images and decodes them into memory.
// Records persist self-describing encoded strings, so uploads are never
// spooled to disk.
type Intake struct {
	maxBytes int64
}

var allowedImageMimes = map[string]struct{}{
	common.MimeImagePNG:  {},
	common.MimeImageJPEG: {},
	common.MimeImageJPG:  {},
	common.MimeImageWebP: {},
}

// NewIntake creates an intake enforcing the given upload size limit.
func NewIntake(maxBytes int64) *Intake {
	return &Intake{maxBytes: maxBytes}
}

// ReadImage validates and reads an uploaded image (png/jpeg/webp) into memory.
// It returns the payload and its resolved mime type.
func (in *Intake) ReadImage(fileHeader *multipart.FileHeader) ([]byte, string, error) {
	if fileHeader == nil {
		return nil, "", fmt.Errorf("no file provided")
	}

	src, err := fileHeader.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open uploaded file: %w", err)
	}
	defer func() { _ = src.Close() }()

	limit := in.maxBytes
	if limit <= 0 {
		limit = 10 * 1024 * 1024
	}
	data, err := io.ReadAll(io.LimitReader(src, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, "", fmt.Errorf("upload exceeds %d bytes", limit)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("uploaded file is empty")
	}

	mimeType := resolveMime(fileHeader, data)
	if !isAllowedImageMime(mimeType) {
		return nil, "", fmt.Errorf("unsupported content type: %s", mimeType)
	}
	return data, mimeType, nil
}

// resolveMime prefers the declared content type, falls back to the filename
// extension, and finally sniffs the payload. Some clients send
// application/octet-stream for any upload; treat it as undeclared.
func resolveMime(fileHeader *multipart.FileHeader, data []byte) string {
	mimeType := strings.ToLower(strings.TrimSpace(fileHeader.Header.Get("Content-Type")))
	if mimeType != "" && !strings.EqualFold(mimeType, "application/octet-stream") {
		return mimeType
	}
	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if byExt := mime.TypeByExtension(ext); byExt != "" {
		return strings.ToLower(byExt)
	}
	return strings.ToLower(http.DetectContentType(data))
}

func isAllowedImageMime(mimeType string) bool {
	_, ok := allowedImageMimes[mimeType]
	return ok
}
