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


package storage

import (
	"fmt"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/dealwire/core"
)

// Layout versions of the persisted values. Bump when a field is added.
const (
	documentLayout   = 1
	enrichmentLayout = 1
	failureLayout    = 1
	checkpointLayout = 1
)

// sink receives the fields of a value in order. The same encode function is
// run once against a sizer and once against a writer.
type sink interface {
	str(v string)
	num(v int64)
	flag(v bool)
}

type sizer struct{ n int }

func (s *sizer) str(v string) { s.n += ord.String.Size(v) }
func (s *sizer) num(v int64)  { s.n += varint.Int64.Size(v) }
func (s *sizer) flag(v bool)  { s.n += ord.Bool.Size(v) }

type writer struct {
	bs []byte
	n  int
}

func (w *writer) str(v string) { w.n += ord.String.Marshal(v, w.bs[w.n:]) }
func (w *writer) num(v int64)  { w.n += varint.Int64.Marshal(v, w.bs[w.n:]) }
func (w *writer) flag(v bool)  { w.n += ord.Bool.Marshal(v, w.bs[w.n:]) }

// reader decodes fields in order; the first error sticks and later reads return zero values.
type reader struct {
	bs  []byte
	n   int
	err error
}

func (r *reader) str() string {
	if r.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *reader) num() int64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Int64.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *reader) flag() bool {
	if r.err != nil {
		return false
	}
	v, n, err := ord.Bool.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *reader) time() time.Time {
	us := r.num()
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}

func (r *reader) optStr() *string {
	if !r.flag() {
		return nil
	}
	v := r.str()
	return &v
}

func (r *reader) strs() []string {
	count := r.num()
	if r.err != nil {
		return nil
	}
	if count < 0 || count > int64(len(r.bs)) {
		r.err = fmt.Errorf("invalid list length %d", count)
		return nil
	}
	out := make([]string, 0, count)
	for i := int64(0); i < count; i++ {
		out = append(out, r.str())
	}
	return out
}

func (r *reader) layout(want int64) {
	if got := r.num(); r.err == nil && got != want {
		r.err = fmt.Errorf("unsupported layout version %d", got)
	}
}

func (r *reader) done(what string) error {
	if r.err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSerializationFailed, what, r.err)
	}
	return nil
}

// Timestamps are stored as Unix microseconds; the zero time is stored as 0.
func putTime(s sink, t time.Time) {
	if t.IsZero() {
		s.num(0)
		return
	}
	s.num(t.UnixMicro())
}

func putOptStr(s sink, v *string) {
	s.flag(v != nil)
	if v != nil {
		s.str(*v)
	}
}

func putStrs(s sink, v []string) {
	s.num(int64(len(v)))
	for _, item := range v {
		s.str(item)
	}
}

func encode(fn func(sink)) []byte {
	var sz sizer
	fn(&sz)
	w := &writer{bs: make([]byte, sz.n)}
	fn(w)
	return w.bs
}

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	return encode(func(s sink) { s.str(string(id)) })
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	r := &reader{bs: data}
	id := core.ID(r.str())
	return id, r.done("id")
}

// MarshalDocument serializes a Document to bytes.
func MarshalDocument(doc *core.Document) []byte {
	return encode(func(s sink) {
		s.num(documentLayout)
		s.str(string(doc.ID))
		s.str(doc.Scope)
		s.str(doc.Headline)
		s.str(doc.SourceName)
		putTime(s, doc.PublishDate)
		s.str(doc.CanonicalURL)
		putOptStr(s, doc.RawText)
		s.str(string(doc.Status))
		s.num(int64(doc.Attempt))
		s.str(doc.FailureReason)
		s.str(doc.CreatedBy)
		putTime(s, doc.ProcessingStartedAt)
		putTime(s, doc.CompletedAt)
		putTime(s, doc.CreatedAt)
		putTime(s, doc.UpdatedAt)
	})
}

// UnmarshalDocument deserializes a Document from bytes.
func UnmarshalDocument(data []byte) (*core.Document, error) {
	r := &reader{bs: data}
	r.layout(documentLayout)
	doc := &core.Document{
		ID:                  core.ID(r.str()),
		Scope:               r.str(),
		Headline:            r.str(),
		SourceName:          r.str(),
		PublishDate:         r.time(),
		CanonicalURL:        r.str(),
		RawText:             r.optStr(),
		Status:              core.Status(r.str()),
		Attempt:             int(r.num()),
		FailureReason:       r.str(),
		CreatedBy:           r.str(),
		ProcessingStartedAt: r.time(),
		CompletedAt:         r.time(),
		CreatedAt:           r.time(),
		UpdatedAt:           r.time(),
	}
	if err := r.done("document"); err != nil {
		return nil, err
	}
	return doc, nil
}

// MarshalEnrichmentRecord serializes an EnrichmentRecord to bytes.
// The extraction result is embedded in its canonical JSON form.
func MarshalEnrichmentRecord(record *core.EnrichmentRecord) ([]byte, error) {
	output, err := core.MarshalResult(record.Output)
	if err != nil {
		return nil, fmt.Errorf("%w: enrichment output: %w", ErrSerializationFailed, err)
	}
	return encode(func(s sink) {
		s.num(enrichmentLayout)
		s.str(string(record.ID))
		s.str(string(record.DocumentID))
		s.str(record.Scope)
		s.num(int64(record.Attempt))
		s.str(output)
		putStrs(s, record.Warnings)
		s.str(string(record.Status))
		s.str(record.CreatedBy)
		putTime(s, record.CreatedAt)
	}), nil
}

// UnmarshalEnrichmentRecord deserializes an EnrichmentRecord from bytes.
func UnmarshalEnrichmentRecord(data []byte) (*core.EnrichmentRecord, error) {
	r := &reader{bs: data}
	r.layout(enrichmentLayout)
	record := &core.EnrichmentRecord{
		ID:         core.ID(r.str()),
		DocumentID: core.ID(r.str()),
		Scope:      r.str(),
		Attempt:    int(r.num()),
	}
	output := r.str()
	record.Warnings = r.strs()
	record.Status = core.EnrichmentStatus(r.str())
	record.CreatedBy = r.str()
	record.CreatedAt = r.time()
	if err := r.done("enrichment record"); err != nil {
		return nil, err
	}
	result, err := core.UnmarshalResult(output)
	if err != nil {
		return nil, fmt.Errorf("%w: enrichment output: %w", ErrSerializationFailed, err)
	}
	record.Output = result
	return record, nil
}

// MarshalAttemptFailure serializes an AttemptFailure to bytes.
func MarshalAttemptFailure(failure *core.AttemptFailure) []byte {
	return encode(func(s sink) {
		s.num(failureLayout)
		s.str(string(failure.ID))
		s.str(string(failure.DocumentID))
		s.str(failure.Scope)
		s.num(int64(failure.Attempt))
		s.str(string(failure.Kind))
		s.str(failure.Message)
		s.str(failure.RawOutput)
		putTime(s, failure.CreatedAt)
	})
}

// UnmarshalAttemptFailure deserializes an AttemptFailure from bytes.
func UnmarshalAttemptFailure(data []byte) (*core.AttemptFailure, error) {
	r := &reader{bs: data}
	r.layout(failureLayout)
	failure := &core.AttemptFailure{
		ID:         core.ID(r.str()),
		DocumentID: core.ID(r.str()),
		Scope:      r.str(),
		Attempt:    int(r.num()),
		Kind:       core.FailureKind(r.str()),
		Message:    r.str(),
		RawOutput:  r.str(),
		CreatedAt:  r.time(),
	}
	if err := r.done("attempt failure"); err != nil {
		return nil, err
	}
	return failure, nil
}

// MarshalCheckpoint serializes a Checkpoint to bytes.
func MarshalCheckpoint(checkpoint *core.Checkpoint) []byte {
	return encode(func(s sink) {
		s.num(checkpointLayout)
		s.str(checkpoint.JobType)
		s.str(string(checkpoint.LastID))
		s.num(int64(checkpoint.Processed))
		putTime(s, checkpoint.UpdatedAt)
	})
}

// UnmarshalCheckpoint deserializes a Checkpoint from bytes.
func UnmarshalCheckpoint(data []byte) (*core.Checkpoint, error) {
	r := &reader{bs: data}
	r.layout(checkpointLayout)
	checkpoint := &core.Checkpoint{
		JobType:   r.str(),
		LastID:    core.ID(r.str()),
		Processed: int(r.num()),
		UpdatedAt: r.time(),
	}
	if err := r.done("checkpoint"); err != nil {
		return nil, err
	}
	return checkpoint, nil
}
