package manuscript

import "errors"

// ErrNotFound is returned when a record id does not exist in the store.
var ErrNotFound = errors.New("manuscript not found")

// Record is the persisted unit combining an original image with its derived
// restoration and analysis. ID, Timestamp and OriginalImage are fixed at
// creation; RestoredImage and Analysis are fixed at commit time and never
// mutated afterwards (redo operations only affect the in-memory session).
type Record struct {
	ID            int64     `json:"id"`
	Timestamp     int64     `json:"timestamp"` // milliseconds since epoch, set once at commit
	OriginalImage string    `json:"originalImage"`
	RestoredImage *string   `json:"restoredImage,omitempty"` // nil when restoration failed
	Analysis      *Analysis `json:"analysis,omitempty"`      // nil when analysis failed
}

// Analysis is the structured result of the text analysis service.
type Analysis struct {
	Transcription string      `json:"transcription"`
	Translation   string      `json:"translation"`
	RawOCR        string      `json:"rawOCR"`
	SourceInfo    SourceInfo  `json:"sourceInfo"`
	RegionInfo    *RegionInfo `json:"regionInfo,omitempty"`
}

// SourceInfo names the literary provenance of the analyzed text.
type SourceInfo struct {
	DetectedSource   string `json:"detectedSource"` // e.g. "Thirukkural" or "Unidentified"
	Section          string `json:"section"`
	BriefExplanation string `json:"briefExplanation"`
}

// RegionInfo is an optional geographic-origin guess.
type RegionInfo struct {
	Region     string `json:"region"`
	Confidence string `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

// Store defines durable persistence for Records. There is no partial-update
// operation: the only mutation after Create is whole-record Delete.
type Store interface {
	// Create assigns a new unique id, persists the record, and returns the id.
	// Ids are monotonically increasing and never reused after deletion.
	Create(rec *Record) (int64, error)
	// List returns all records ordered by timestamp descending.
	List() ([]Record, error)
	// Delete removes the record with the given id, or ErrNotFound.
	Delete(id int64) error
	Close() error
}
