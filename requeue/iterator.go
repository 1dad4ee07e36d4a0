// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package requeue

import (
	"context"
	"slices"

	"github.com/poiesic/dealwire/core"
	"github.com/poiesic/dealwire/storage"
)

const (
	// DefaultBatchSize is the default number of documents per batch
	DefaultBatchSize = 50
)

// FailedIterator walks the FAILED documents of a scope in batches.
//
// The set is snapshotted when the walk starts and ordered by ID, so documents
// that fail again during the run are not revisited and a checkpointed ID is a
// stable resume point.
type FailedIterator struct {
	repo      storage.DocumentRepository
	scope     string
	batchSize int
}

// NewFailedIterator creates an iterator over scope ("" means every scope).
func NewFailedIterator(repo storage.DocumentRepository, scope string, batchSize int) *FailedIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &FailedIterator{
		repo:      repo,
		scope:     scope,
		batchSize: batchSize,
	}
}

// Snapshot returns the IDs of FAILED documents ordered by ID, keeping only
// those after the given ID when after is non-empty.
func (it *FailedIterator) Snapshot(ctx context.Context, after core.ID) ([]core.ID, error) {
	var ids []core.ID
	err := it.repo.ScanDocuments(ctx, it.scope, func(doc *core.Document) error {
		if doc.Status == core.StatusFailed && (after == "" || doc.ID > after) {
			ids = append(ids, doc.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, nil
}

// ForEach calls fn with consecutive batches of ids.
// Iteration stops on the first error from fn or when ctx is done.
func (it *FailedIterator) ForEach(ctx context.Context, ids []core.ID, fn func([]core.ID) error) error {
	for batch := range slices.Chunk(ids, it.batchSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}
