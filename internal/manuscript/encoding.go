package manuscript

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Images are carried as self-describing encoded strings so every record field
// stays single-valued: "data:<category>/<subtype>;base64,<payload>", e.g.
// "data:image/jpeg;base64,/9j/4AAQ...".

// ErrInvalidImageEncoding is returned when an encoded image does not match the
// data-URL shape above.
var ErrInvalidImageEncoding = errors.New("invalid image encoding")

const (
	dataURLPrefix    = "data:"
	dataURLBase64Sep = ";base64,"
)

var reDataURL = regexp.MustCompile(`^data:([a-zA-Z0-9]+/[a-zA-Z0-9-.+]+);base64,(.+)$`)

// EncodeImage wraps raw image bytes and their mime type into an encoded image string.
func EncodeImage(mimeType string, data []byte) string {
	return dataURLPrefix + strings.TrimSpace(mimeType) + dataURLBase64Sep + base64.StdEncoding.EncodeToString(data)
}

// ParseImage splits an encoded image into its mime type and payload bytes.
// Any string not matching the data-URL shape fails with ErrInvalidImageEncoding.
func ParseImage(encoded string) (mimeType string, data []byte, err error) {
	m := reDataURL.FindStringSubmatch(encoded)
	if m == nil {
		return "", nil, ErrInvalidImageEncoding
	}
	payload, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidImageEncoding, err)
	}
	return m[1], payload, nil
}
