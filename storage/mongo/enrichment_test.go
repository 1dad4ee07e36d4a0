package mongo

import (
	"testing"

	"github.com/poiesic/dealwire/core"
	"github.com/stretchr/testify/assert"
)

func TestCommittedRecords(t *testing.T) {
	record := func(attempt int, status core.EnrichmentStatus) *core.EnrichmentRecord {
		return &core.EnrichmentRecord{ID: core.NewID(), Attempt: attempt, Status: status}
	}
	ids := func(records []*core.EnrichmentRecord) []core.ID {
		out := make([]core.ID, 0, len(records))
		for _, r := range records {
			out = append(out, r.ID)
		}
		return out
	}

	t.Run("completed keeps its attempt's record", func(t *testing.T) {
		orphan, done := record(1, core.EnrichmentDone), record(2, core.EnrichmentDone)
		got := committedRecords([]*core.EnrichmentRecord{orphan, done}, core.StatusCompleted, 2)
		assert.Equal(t, []core.ID{done.ID}, ids(got))
	})

	t.Run("failed document hides DONE records", func(t *testing.T) {
		orphan := record(1, core.EnrichmentDone)
		got := committedRecords([]*core.EnrichmentRecord{orphan}, core.StatusFailed, 1)
		assert.Empty(t, got)
		assert.Nil(t, core.Latest(got))
	})

	t.Run("processing document hides DONE records", func(t *testing.T) {
		got := committedRecords([]*core.EnrichmentRecord{record(3, core.EnrichmentDone)}, core.StatusProcessing, 3)
		assert.Empty(t, got)
	})

	t.Run("ERROR records pass through", func(t *testing.T) {
		imported := record(1, core.EnrichmentError)
		got := committedRecords([]*core.EnrichmentRecord{imported}, core.StatusFailed, 2)
		assert.Equal(t, []core.ID{imported.ID}, ids(got))
	})
}
