package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/dealwire/core"
	"github.com/poiesic/dealwire/storage"
)

// EnrichmentRepository implements storage.EnrichmentRepository for BadgerDB.
type EnrichmentRepository struct {
	backend *Backend
}

var _ storage.EnrichmentRepository = (*EnrichmentRepository)(nil)

// NewEnrichmentRepository creates a new EnrichmentRepository.
func NewEnrichmentRepository(backend *Backend) (*EnrichmentRepository, error) {
	return &EnrichmentRepository{
		backend: backend,
	}, nil
}

// Close releases resources. EnrichmentRepository has no resources to release.
func (r *EnrichmentRepository) Close() error {
	return nil
}

// ListEnrichments returns a document's enrichment records, oldest first.
func (r *EnrichmentRepository) ListEnrichments(ctx context.Context, documentID core.ID) ([]*core.EnrichmentRecord, error) {
	var results []*core.EnrichmentRecord
	err := r.backend.View(func(tx *badger.Txn) error {
		return iteratePrefix(ctx, tx, makeEnrichmentPrefix(documentID), func(_, val []byte) error {
			record, err := storage.UnmarshalEnrichmentRecord(val)
			if err != nil {
				return err
			}
			results = append(results, record)
			return nil
		})
	})
	return results, err
}

// LatestEnrichment returns the most recent DONE record of a document.
func (r *EnrichmentRepository) LatestEnrichment(ctx context.Context, documentID core.ID) (*core.EnrichmentRecord, error) {
	records, err := r.ListEnrichments(ctx, documentID)
	if err != nil {
		return nil, err
	}
	latest := core.Latest(records)
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return latest, nil
}

// ListFailures returns a document's attempt failures, oldest first.
func (r *EnrichmentRepository) ListFailures(ctx context.Context, documentID core.ID) ([]*core.AttemptFailure, error) {
	var results []*core.AttemptFailure
	err := r.backend.View(func(tx *badger.Txn) error {
		return iteratePrefix(ctx, tx, makeFailurePrefix(documentID), func(_, val []byte) error {
			failure, err := storage.UnmarshalAttemptFailure(val)
			if err != nil {
				return err
			}
			results = append(results, failure)
			return nil
		})
	})
	return results, err
}

// CountEnrichmentsSince counts records in scope created at or after since.
// The time index stores each record's scope as its value.
func (r *EnrichmentRepository) CountEnrichmentsSince(ctx context.Context, scope string, since time.Time) (int, error) {
	count := 0
	err := r.backend.View(func(tx *badger.Txn) error {
		prefix := []byte(enrichmentTimePrefix)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(appendTimestamp([]byte(enrichmentTimePrefix), since)); iter.ValidForPrefix(prefix); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if scope == "" {
				count++
				continue
			}
			err := iter.Item().Value(func(val []byte) error {
				if string(val) == scope {
					count++
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return count, err
}
