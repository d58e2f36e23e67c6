package common

// Shared constants to enforce DRY and avoid magic strings/numbers.

// HTTP headers and content types
const (
	HeaderAPIKey       = "X-API-Key" // #nosec G101 - header name constant, not a credential
	HeaderPrefer       = "Prefer"
	PreferRespondAsync = "respond-async"
	ContentTypeJSON    = "application/json"
)

// API paths
const (
	PathHealthz     = "/healthz"
	PathManuscripts = "/v1/manuscripts"
	PathSession     = "/v1/session"
)

// Defaults and limits
const (
	SQLiteBusyTimeoutMS = 5000
	VariationUpperBound = 1000
)

// MIME types
const (
	MimeImagePNG  = "image/png"
	MimeImageJPEG = "image/jpeg"
	MimeImageJPG  = "image/jpg"
	MimeImageWebP = "image/webp"
)

// User-facing error messages. The analysis message is the only service
// failure surfaced to the user; restoration failures degrade silently.
const (
	MsgAnalysisFailed = "Failed to analyze text."
	MsgEditFailed     = "Failed to edit image."
	MsgFileRead       = "Error reading file."
)
