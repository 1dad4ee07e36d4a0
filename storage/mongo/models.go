package mongo

import (
	"time"

	"github.com/poiesic/dealwire/core"
)

type documentDoc struct {
	ID                  string    `bson:"_id"`
	Scope               string    `bson:"scope"`
	Headline            string    `bson:"headline"`
	SourceName          string    `bson:"sourceName"`
	PublishDate         time.Time `bson:"publishDate"`
	CanonicalURL        string    `bson:"canonicalUrl"`
	RawText             *string   `bson:"rawText,omitempty"`
	Status              string    `bson:"status"`
	Attempt             int       `bson:"attempt"`
	FailureReason       string    `bson:"failureReason"`
	CreatedBy           string    `bson:"createdBy"`
	ProcessingStartedAt time.Time `bson:"processingStartedAt"`
	CompletedAt         time.Time `bson:"completedAt"`
	CreatedAt           time.Time `bson:"createdAt"`
	UpdatedAt           time.Time `bson:"updatedAt"`
}

func fromDocument(d *core.Document) documentDoc {
	return documentDoc{
		ID:                  string(d.ID),
		Scope:               d.Scope,
		Headline:            d.Headline,
		SourceName:          d.SourceName,
		PublishDate:         d.PublishDate,
		CanonicalURL:        d.CanonicalURL,
		RawText:             d.RawText,
		Status:              string(d.Status),
		Attempt:             d.Attempt,
		FailureReason:       d.FailureReason,
		CreatedBy:           d.CreatedBy,
		ProcessingStartedAt: d.ProcessingStartedAt,
		CompletedAt:         d.CompletedAt,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
}

func (m documentDoc) toDocument() *core.Document {
	return &core.Document{
		ID:                  core.ID(m.ID),
		Scope:               m.Scope,
		Headline:            m.Headline,
		SourceName:          m.SourceName,
		PublishDate:         m.PublishDate.UTC(),
		CanonicalURL:        m.CanonicalURL,
		RawText:             m.RawText,
		Status:              core.Status(m.Status),
		Attempt:             m.Attempt,
		FailureReason:       m.FailureReason,
		CreatedBy:           m.CreatedBy,
		ProcessingStartedAt: zeroable(m.ProcessingStartedAt),
		CompletedAt:         zeroable(m.CompletedAt),
		CreatedAt:           m.CreatedAt.UTC(),
		UpdatedAt:           m.UpdatedAt.UTC(),
	}
}

// enrichmentDoc keeps Output in the canonical JSON form of the extraction result.
type enrichmentDoc struct {
	ID         string    `bson:"_id"`
	DocumentID string    `bson:"documentId"`
	Scope      string    `bson:"scope"`
	Attempt    int       `bson:"attempt"`
	Output     string    `bson:"output"`
	Warnings   []string  `bson:"warnings"`
	Status     string    `bson:"status"`
	CreatedBy  string    `bson:"createdBy"`
	CreatedAt  time.Time `bson:"createdAt"`
}

type failureDoc struct {
	ID         string    `bson:"_id"`
	DocumentID string    `bson:"documentId"`
	Scope      string    `bson:"scope"`
	Attempt    int       `bson:"attempt"`
	Kind       string    `bson:"kind"`
	Message    string    `bson:"message"`
	RawOutput  string    `bson:"rawOutput"`
	CreatedAt  time.Time `bson:"createdAt"`
}

func (m failureDoc) toFailure() *core.AttemptFailure {
	return &core.AttemptFailure{
		ID:         core.ID(m.ID),
		DocumentID: core.ID(m.DocumentID),
		Scope:      m.Scope,
		Attempt:    m.Attempt,
		Kind:       core.FailureKind(m.Kind),
		Message:    m.Message,
		RawOutput:  m.RawOutput,
		CreatedAt:  m.CreatedAt.UTC(),
	}
}

type checkpointDoc struct {
	JobType   string    `bson:"_id"`
	LastID    string    `bson:"lastId"`
	Processed int       `bson:"processed"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// zeroable maps the stored form of the zero time back to time.Time{}.
func zeroable(t time.Time) time.Time {
	if t.IsZero() || t.Year() <= 1 {
		return time.Time{}
	}
	return t.UTC()
}
