package core

import (
	"encoding/hex"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

// ID is an opaque identifier for documents, enrichment records and attempt failures.
// IDs are random UUIDs generated at creation time.
type ID string

// NewID generates a fresh random ID.
func NewID() ID {
	return ID(uuid.NewString())
}

// ParseID validates that s is a well-formed ID.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return ID(u.String()), nil
}

// String returns the textual form of the ID.
func (id ID) String() string {
	return string(id)
}

// DedupKey derives the fixed-width uniqueness key of a (scope, canonical URL) pair
// using BLAKE2b hashing. Stores that cannot index arbitrary-length strings key
// their uniqueness index by this value.
func DedupKey(scope, canonicalURL string) string {
	h, _ := blake2b.New(32, nil) // 32 bytes = 256 bits
	h.Write([]byte(scope))
	h.Write([]byte{0})
	h.Write([]byte(canonicalURL))
	return hex.EncodeToString(h.Sum(nil))
}

// Status is the lifecycle state of a Document.
type Status string

const (
	// StatusNew marks a document that has been ingested but never claimed.
	StatusNew Status = "NEW"
	// StatusProcessing marks a document claimed by exactly one extraction attempt.
	StatusProcessing Status = "PROCESSING"
	// StatusCompleted marks a document with an authoritative enrichment record.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed marks a document whose last attempt failed. It may be retried.
	StatusFailed Status = "FAILED"
)

// Statuses lists every document status in lifecycle order.
var Statuses = []Status{StatusNew, StatusProcessing, StatusCompleted, StatusFailed}

// ClaimableStatuses are the states from which a document may be claimed.
var ClaimableStatuses = []Status{StatusNew, StatusFailed}

// Claimable reports whether a document in this status may be claimed.
func (s Status) Claimable() bool {
	return s == StatusNew || s == StatusFailed
}

// Document is a single ingested news item and its enrichment lifecycle state.
type Document struct {
	ID                  ID
	Scope               string  // Tenant/organization the document belongs to
	Headline            string
	SourceName          string
	PublishDate         time.Time
	CanonicalURL        string  // Normalized; unique within Scope
	RawText             *string // Optional article body, plain text or HTML
	Status              Status
	Attempt             int    // Number of successful claims; identifies the current owner
	FailureReason       string // Set on entering FAILED, cleared on COMPLETED
	CreatedBy           string // Optional actor identity
	ProcessingStartedAt time.Time
	CompletedAt         time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Text returns the raw text, or the empty string when none was supplied.
func (d *Document) Text() string {
	if d.RawText == nil {
		return ""
	}
	return *d.RawText
}

// EnrichmentStatus is the terminal status of one extraction attempt's record.
type EnrichmentStatus string

const (
	// EnrichmentDone marks a record holding a validated extraction result.
	EnrichmentDone EnrichmentStatus = "DONE"
	// EnrichmentError marks a record that must never be treated as authoritative.
	EnrichmentError EnrichmentStatus = "ERROR"
)

// EnrichmentRecord is the persisted output of one successful extraction attempt.
// Records are write-once and owned by their document.
type EnrichmentRecord struct {
	ID         ID
	DocumentID ID
	Scope      string
	Attempt    int
	Output     ExtractionResult
	Warnings   []string // Soft validation notes produced while parsing Output
	Status     EnrichmentStatus
	CreatedBy  string
	CreatedAt  time.Time
}

// FailureKind classifies why an attempt ended in FAILED.
type FailureKind string

const (
	// FailureExtraction means the extraction capability was unreachable, errored or timed out.
	FailureExtraction FailureKind = "extraction"
	// FailureSchema means the extractor answered with a structurally invalid result.
	FailureSchema FailureKind = "schema"
	// FailureStale means the attempt exceeded the processing staleness threshold.
	FailureStale FailureKind = "stale"
	// FailurePersist means the result was valid but could not be stored.
	FailurePersist FailureKind = "persist"
)

// AttemptFailure holds the diagnostics of a failed attempt.
// For schema failures RawOutput preserves the extractor's output verbatim.
type AttemptFailure struct {
	ID         ID
	DocumentID ID
	Scope      string
	Attempt    int
	Kind       FailureKind
	Message    string
	RawOutput  string
	CreatedAt  time.Time
}

// Reason renders the failure as a document failure reason.
func (f *AttemptFailure) Reason() string {
	return string(f.Kind) + ": " + f.Message
}

// Latest returns the authoritative record among records: the most recent DONE one.
// Returns nil when there is none.
func Latest(records []*EnrichmentRecord) *EnrichmentRecord {
	var latest *EnrichmentRecord
	for _, r := range records {
		if r.Status != EnrichmentDone {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	return latest
}

// Checkpoint records how far a resumable batch job has progressed.
type Checkpoint struct {
	JobType   string
	LastID    ID // Last document handled
	Processed int
	UpdatedAt time.Time
}
