package storage

import (
	"testing"
	"time"

	"github.com/poiesic/dealwire/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalID(t *testing.T) {
	id := core.NewID()

	data := MarshalID(id)
	require.NotEmpty(t, data)

	decoded, err := UnmarshalID(data)
	require.NoError(t, err)
	assert.Equal(t, id, decoded)
}

func TestUnmarshal_Invalid(t *testing.T) {
	tests := []struct {
		name string
		fn   func([]byte) error
	}{
		{"id", func(b []byte) error { _, err := UnmarshalID(b); return err }},
		{"document", func(b []byte) error { _, err := UnmarshalDocument(b); return err }},
		{"enrichment", func(b []byte) error { _, err := UnmarshalEnrichmentRecord(b); return err }},
		{"failure", func(b []byte) error { _, err := UnmarshalAttemptFailure(b); return err }},
		{"checkpoint", func(b []byte) error { _, err := UnmarshalCheckpoint(b); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn([]byte{})
			assert.ErrorIs(t, err, ErrSerializationFailed)
		})
	}
}

func TestMarshalUnmarshalDocument(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	body := "<p>Northwind closes Fund III</p>"

	tests := []struct {
		name string
		doc  *core.Document
	}{
		{
			name: "new document without text",
			doc: &core.Document{
				ID:           core.NewID(),
				Scope:        "acme",
				Headline:     "Northwind closes Fund III",
				SourceName:   "Example Wire",
				PublishDate:  now.Truncate(24 * time.Hour),
				CanonicalURL: "https://news.example.com/northwind",
				Status:       core.StatusNew,
				CreatedAt:    now,
				UpdatedAt:    now,
			},
		},
		{
			name: "failed document with text",
			doc: &core.Document{
				ID:                  core.NewID(),
				Scope:               "acme",
				Headline:            "Northwind closes Fund III",
				SourceName:          "Example Wire",
				PublishDate:         now,
				CanonicalURL:        "https://news.example.com/northwind",
				RawText:             &body,
				Status:              core.StatusFailed,
				Attempt:             3,
				FailureReason:       "schema: confidenceScore: must be in [0,100], got 150",
				CreatedBy:           "analyst@acme.test",
				ProcessingStartedAt: now,
				CreatedAt:           now.Add(-time.Hour),
				UpdatedAt:           now,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := UnmarshalDocument(MarshalDocument(tt.doc))
			require.NoError(t, err)
			assert.Equal(t, tt.doc, decoded)
			assert.True(t, decoded.CompletedAt.IsZero())
		})
	}
}

func TestMarshalUnmarshalEnrichmentRecord(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	output, _, err := core.ParseExtractionResult(`{"dealDetected": true, "dealType": "exit",
		"entities": {"portfolioCompanies": ["Contoso"]}, "confidenceScore": 81, "reasoning": "sale announced"}`)
	require.NoError(t, err)

	record := &core.EnrichmentRecord{
		ID:         core.NewID(),
		DocumentID: core.NewID(),
		Scope:      "acme",
		Attempt:    2,
		Output:     output,
		Warnings:   []string{"dealDetected is false but deal fields are populated"},
		Status:     core.EnrichmentDone,
		CreatedAt:  now,
	}

	data, err := MarshalEnrichmentRecord(record)
	require.NoError(t, err)
	decoded, err := UnmarshalEnrichmentRecord(data)
	require.NoError(t, err)
	assert.Equal(t, record, decoded)
}

func TestMarshalUnmarshalAttemptFailure(t *testing.T) {
	failure := &core.AttemptFailure{
		ID:         core.NewID(),
		DocumentID: core.NewID(),
		Scope:      "acme",
		Attempt:    1,
		Kind:       core.FailureSchema,
		Message:    "confidenceScore: must be in [0,100], got 150",
		RawOutput:  `{"confidenceScore": 150}`,
		CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}

	decoded, err := UnmarshalAttemptFailure(MarshalAttemptFailure(failure))
	require.NoError(t, err)
	assert.Equal(t, failure, decoded)
}

func TestUnmarshalDocument_RejectsUnknownLayout(t *testing.T) {
	data := MarshalDocument(&core.Document{ID: core.NewID()})
	data[0] = 0x7e

	_, err := UnmarshalDocument(data)
	assert.ErrorIs(t, err, ErrSerializationFailed)
}
