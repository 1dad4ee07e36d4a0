package badger

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/dealwire/core"
	"github.com/poiesic/dealwire/storage"
)

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
//
// Claims and completions run in serializable read-write transactions. Two
// writers that read the same document conflict at commit; the loser is re-run
// by Backend.Update and observes the winner's state.
type DocumentRepository struct {
	backend *Backend
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) (*DocumentRepository, error) {
	return &DocumentRepository{
		backend: backend,
	}, nil
}

// Close releases resources. DocumentRepository has no resources to release.
func (r *DocumentRepository) Close() error {
	return nil
}

// CreateDocument inserts a NEW document guarded by the unique URL key.
func (r *DocumentRepository) CreateDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	now := time.Now().UTC()
	created := *doc
	if created.ID == "" {
		created.ID = core.NewID()
	}
	created.Status = core.StatusNew
	created.Attempt = 0
	created.CreatedAt = now
	created.UpdatedAt = now

	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		urlKey := makeDocumentURLKey(created.Scope, created.CanonicalURL)
		_, err := tx.Get(urlKey)
		if err == nil {
			return storage.ErrDuplicateKey
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		if err := tx.Set(urlKey, storage.MarshalID(created.ID)); err != nil {
			return err
		}
		if err := tx.Set(makeDocumentScopeKey(created.Scope, created.CreatedAt, created.ID), storage.MarshalID(created.ID)); err != nil {
			return err
		}
		if err := tx.Set(makeDocumentStatusKey(created.Status, created.ID), nil); err != nil {
			return err
		}
		return tx.Set(makeDocumentKey(created.ID), storage.MarshalDocument(&created))
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// GetDocument retrieves a single document by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id core.ID) (*core.Document, error) {
	var doc *core.Document
	err := r.backend.View(func(tx *badger.Txn) error {
		var err error
		doc, err = mustReadDocument(tx, id)
		return err
	})
	return doc, err
}

// FindDocumentByURL looks a document up through the unique URL key.
func (r *DocumentRepository) FindDocumentByURL(ctx context.Context, scope, canonicalURL string) (*core.Document, error) {
	var doc *core.Document
	err := r.backend.View(func(tx *badger.Txn) error {
		item, err := tx.Get(makeDocumentURLKey(scope, canonicalURL))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}
		var id core.ID
		err = item.Value(func(val []byte) error {
			id, err = storage.UnmarshalID(val)
			return err
		})
		if err != nil {
			return err
		}
		doc, err = mustReadDocument(tx, id)
		if err != nil {
			return err
		}
		// Hash keys are compared against the stored pair.
		if doc.Scope != scope || doc.CanonicalURL != canonicalURL {
			return storage.ErrNotFound
		}
		return nil
	})
	return doc, err
}

// ClaimDocument moves a NEW or FAILED document to PROCESSING.
func (r *DocumentRepository) ClaimDocument(ctx context.Context, id core.ID, now time.Time) (*core.Document, bool, error) {
	var (
		doc     *core.Document
		claimed bool
	)
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		var err error
		claimed = false
		doc, err = mustReadDocument(tx, id)
		if err != nil {
			return err
		}
		if !doc.Status.Claimable() {
			return nil
		}
		previous := doc.Status
		doc.Status = core.StatusProcessing
		doc.Attempt++
		doc.ProcessingStartedAt = now
		doc.UpdatedAt = now
		if err := writeDocument(tx, doc, previous); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return doc, claimed, nil
}

// CompleteDocument stores record and moves its document to COMPLETED.
func (r *DocumentRepository) CompleteDocument(ctx context.Context, attempt int, record *core.EnrichmentRecord) error {
	if record.ID == "" {
		record.ID = core.NewID()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	value, err := storage.MarshalEnrichmentRecord(record)
	if err != nil {
		return err
	}
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		doc, err := readOwnedDocument(tx, record.DocumentID, attempt)
		if err != nil {
			return err
		}
		if err := tx.Set(makeEnrichmentKey(record.DocumentID, record.CreatedAt, record.ID), value); err != nil {
			return err
		}
		if err := tx.Set(makeEnrichmentTimeKey(record.CreatedAt, record.ID), []byte(record.Scope)); err != nil {
			return err
		}
		doc.Status = core.StatusCompleted
		doc.FailureReason = ""
		doc.CompletedAt = record.CreatedAt
		doc.UpdatedAt = record.CreatedAt
		return writeDocument(tx, doc, core.StatusProcessing)
	})
}

// FailDocument stores failure and moves its document to FAILED.
func (r *DocumentRepository) FailDocument(ctx context.Context, attempt int, failure *core.AttemptFailure) error {
	if failure.ID == "" {
		failure.ID = core.NewID()
	}
	if failure.CreatedAt.IsZero() {
		failure.CreatedAt = time.Now().UTC()
	}
	value := storage.MarshalAttemptFailure(failure)
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		doc, err := readOwnedDocument(tx, failure.DocumentID, attempt)
		if err != nil {
			return err
		}
		if err := tx.Set(makeFailureKey(failure.DocumentID, failure.CreatedAt, failure.ID), value); err != nil {
			return err
		}
		doc.Status = core.StatusFailed
		doc.FailureReason = failure.Reason()
		doc.UpdatedAt = failure.CreatedAt
		return writeDocument(tx, doc, core.StatusProcessing)
	})
}

// ListDocuments returns documents matching filter, newest first.
func (r *DocumentRepository) ListDocuments(ctx context.Context, filter storage.DocumentFilter) ([]*core.Document, error) {
	var results []*core.Document
	keep := func(doc *core.Document) error {
		if filter.Status != "" && doc.Status != filter.Status {
			return nil
		}
		if filter.Scope != "" && doc.Scope != filter.Scope {
			return nil
		}
		if !filter.StartedBefore.IsZero() && !doc.ProcessingStartedAt.Before(filter.StartedBefore) {
			return nil
		}
		results = append(results, doc)
		return nil
	}

	var err error
	if filter.Status != "" {
		err = r.scanStatus(ctx, filter.Status, keep)
	} else {
		err = r.ScanDocuments(ctx, filter.Scope, keep)
	}
	if err != nil {
		return nil, err
	}

	slices.SortFunc(results, func(a, b *core.Document) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results, nil
}

// ScanDocuments calls fn for every document in scope, oldest first within a scope.
func (r *DocumentRepository) ScanDocuments(ctx context.Context, scope string, fn func(*core.Document) error) error {
	return r.backend.View(func(tx *badger.Txn) error {
		if scope == "" {
			return iteratePrefix(ctx, tx, []byte(documentPrefix), func(_, val []byte) error {
				doc, err := storage.UnmarshalDocument(val)
				if err != nil {
					return err
				}
				return fn(doc)
			})
		}
		return iteratePrefix(ctx, tx, makeDocumentScopePrefix(scope), func(_, val []byte) error {
			id, err := storage.UnmarshalID(val)
			if err != nil {
				return err
			}
			doc, err := mustReadDocument(tx, id)
			if err != nil {
				return err
			}
			return fn(doc)
		})
	})
}

// scanStatus calls fn for every document currently in status.
func (r *DocumentRepository) scanStatus(ctx context.Context, status core.Status, fn func(*core.Document) error) error {
	prefix := makeDocumentStatusPrefix(status)
	return r.backend.View(func(tx *badger.Txn) error {
		return iteratePrefix(ctx, tx, prefix, func(key, _ []byte) error {
			id := core.ID(bytes.TrimPrefix(key, prefix))
			doc, err := mustReadDocument(tx, id)
			if err != nil {
				return err
			}
			return fn(doc)
		})
	})
}

// Helper methods

// iteratePrefix calls fn with a copy of every key and value under prefix, in key order.
func iteratePrefix(ctx context.Context, tx *badger.Txn, prefix []byte, fn func(key, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := iter.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(item.KeyCopy(nil), val); err != nil {
			return err
		}
	}
	return nil
}

// readDocument reads a document from the transaction.
// Returns nil, nil if the document doesn't exist.
func readDocument(tx *badger.Txn, id core.ID) (*core.Document, error) {
	item, err := tx.Get(makeDocumentKey(id))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}

	var doc *core.Document
	err = item.Value(func(val []byte) error {
		var err error
		doc, err = storage.UnmarshalDocument(val)
		return err
	})
	return doc, err
}

// mustReadDocument is readDocument returning storage.ErrNotFound for missing documents.
func mustReadDocument(tx *badger.Txn, id core.ID) (*core.Document, error) {
	doc, err := readDocument(tx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("document %s: %w", id, storage.ErrNotFound)
	}
	return doc, nil
}

// readOwnedDocument reads a document that must still be PROCESSING under attempt.
func readOwnedDocument(tx *badger.Txn, id core.ID, attempt int) (*core.Document, error) {
	doc, err := mustReadDocument(tx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status != core.StatusProcessing || doc.Attempt != attempt {
		return nil, fmt.Errorf("%w: document %s is %s at attempt %d, caller holds attempt %d",
			core.ErrStaleAttempt, id, doc.Status, doc.Attempt, attempt)
	}
	return doc, nil
}

// writeDocument stores doc and moves its status index entry from previous.
func writeDocument(tx *badger.Txn, doc *core.Document, previous core.Status) error {
	if err := core.CheckTransition(previous, doc.Status); err != nil {
		return err
	}
	if err := tx.Delete(makeDocumentStatusKey(previous, doc.ID)); err != nil {
		return err
	}
	if err := tx.Set(makeDocumentStatusKey(doc.Status, doc.ID), nil); err != nil {
		return err
	}
	return tx.Set(makeDocumentKey(doc.ID), storage.MarshalDocument(doc))
}
