package badger

import (
	"encoding/binary"
	"time"

	"github.com/poiesic/dealwire/core"
)

// Key prefixes for different data types
const (
	documentPrefix       = "doc:"
	documentURLPrefix    = "docurl:"
	documentScopePrefix  = "docscope:"
	documentStatusPrefix = "docstat:"
	enrichmentPrefix     = "enr:"
	enrichmentTimePrefix = "enrtime:"
	failurePrefix        = "fail:"
	checkpointPrefix     = "chkpt:"
)

// makeDocumentKey generates a key for a document by ID.
func makeDocumentKey(id core.ID) []byte {
	return []byte(documentPrefix + string(id))
}

// makeDocumentURLKey generates the unique key of a (scope, canonical URL) pair.
// Format: prefix:dedupKey
func makeDocumentURLKey(scope, canonicalURL string) []byte {
	return []byte(documentURLPrefix + core.DedupKey(scope, canonicalURL))
}

// makeDocumentScopeKey generates a composite key for the scope index.
// Format: prefix:len(scope)scope timestamp id
func makeDocumentScopeKey(scope string, createdAt time.Time, id core.ID) []byte {
	buf := makeDocumentScopePrefix(scope)
	buf = appendTimestamp(buf, createdAt)
	return append(buf, id...)
}

// makeDocumentScopePrefix generates a partial key for scope queries.
// The scope is length-prefixed so no scope's prefix covers another's.
func makeDocumentScopePrefix(scope string) []byte {
	buf := make([]byte, 0, len(documentScopePrefix)+binary.MaxVarintLen64+len(scope))
	buf = append(buf, documentScopePrefix...)
	buf = binary.AppendUvarint(buf, uint64(len(scope)))
	return append(buf, scope...)
}

// makeDocumentStatusKey generates a composite key for the status index.
// Format: prefix:status:id
func makeDocumentStatusKey(status core.Status, id core.ID) []byte {
	return append(makeDocumentStatusPrefix(status), id...)
}

// makeDocumentStatusPrefix generates a partial key for status queries.
func makeDocumentStatusPrefix(status core.Status) []byte {
	return []byte(documentStatusPrefix + string(status) + ":")
}

// makeEnrichmentKey generates a key for an enrichment record.
// Format: prefix:documentID:timestamp:recordID
func makeEnrichmentKey(documentID core.ID, createdAt time.Time, id core.ID) []byte {
	buf := appendTimestamp(makeEnrichmentPrefix(documentID), createdAt)
	return append(buf, id...)
}

// makeEnrichmentPrefix generates a partial key for a document's enrichment records.
func makeEnrichmentPrefix(documentID core.ID) []byte {
	return []byte(enrichmentPrefix + string(documentID) + ":")
}

// makeEnrichmentTimeKey generates a key for the global enrichment time index.
// Format: prefix:timestamp:recordID
func makeEnrichmentTimeKey(createdAt time.Time, id core.ID) []byte {
	buf := appendTimestamp([]byte(enrichmentTimePrefix), createdAt)
	return append(buf, id...)
}

// makeFailureKey generates a key for an attempt failure.
// Format: prefix:documentID:timestamp:failureID
func makeFailureKey(documentID core.ID, createdAt time.Time, id core.ID) []byte {
	buf := appendTimestamp(makeFailurePrefix(documentID), createdAt)
	return append(buf, id...)
}

// makeFailurePrefix generates a partial key for a document's attempt failures.
func makeFailurePrefix(documentID core.ID) []byte {
	return []byte(failurePrefix + string(documentID) + ":")
}

// makeCheckpointKey generates a key for batch job checkpoints.
func makeCheckpointKey(jobType string) []byte {
	return []byte(checkpointPrefix + jobType)
}

// appendTimestamp writes t in BigEndian order so lexicographic sort matches time order.
func appendTimestamp(buf []byte, t time.Time) []byte {
	return binary.BigEndian.AppendUint64(buf, uint64(t.UnixMicro()))
}
