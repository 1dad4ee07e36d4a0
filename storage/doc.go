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


// Package storage provides the storage abstraction layer for dealwire.
//
// This package defines repository interfaces that decouple the document
// store from the ingestion pipeline. Three backends implement them:
// storage/badger (embedded, the default), storage/sqlstore (PostgreSQL or
// SQLite) and storage/mongo (MongoDB).
//
// # Constructor Return Type Pattern
//
// Public backend constructors return a *Store whose fields are interfaces:
//
//	store, err := badger.NewStore(path)
//	store.Documents   // storage.DocumentRepository
//	store.Enrichments // storage.EnrichmentRepository
//
// Internal constructors may return concrete types since they are only used
// within the implementation package.
//
// # Atomicity
//
// Document uniqueness per (scope, canonical URL) is enforced by the backend
// (unique key or unique index), never by an in-process lock. Status changes
// are conditional updates: a claim only succeeds from NEW or FAILED, and an
// attempt can only complete or fail while it still owns the document. Each
// completion or failure is written together with its enrichment record or
// attempt failure.
//
// # Usage
//
// Use in tests with in-memory storage:
//
//	store, err := badger.NewMemoryStore()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
//
// # Context Support
//
// All repository methods accept context.Context for cancellation
// and timeout support.
package storage
