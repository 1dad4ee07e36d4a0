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


package core

import (
	"errors"
	"fmt"
)

// Pipeline errors
var (
	// ErrValidation indicates an ingest request was rejected before any storage mutation.
	ErrValidation = errors.New("validation failed")

	// ErrAlreadyProcessing indicates a claim was refused because the document
	// is not in a claimable state.
	ErrAlreadyProcessing = errors.New("document is not claimable")

	// ErrExtraction indicates the extraction capability failed, errored or timed out.
	ErrExtraction = errors.New("extraction failed")

	// ErrSchema indicates the extraction output did not satisfy the result schema.
	ErrSchema = errors.New("extraction output rejected")

	// ErrStaleAttempt indicates an attempt tried to complete after losing ownership
	// of its document.
	ErrStaleAttempt = errors.New("attempt no longer owns document")

	// ErrRetryLimit indicates a retry was refused because the document reached
	// the configured attempt limit.
	ErrRetryLimit = errors.New("retry limit reached")

	// ErrInvalidTransition indicates an illegal document status transition.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError reports a missing or malformed ingest field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: field %q is required", ErrValidation, e.Field)
	}
	return fmt.Sprintf("%s: field %q %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ExtractionError reports a failed call to the extraction capability.
// The message never includes the cause, which may carry provider details;
// the cause is still reachable through errors.Is and errors.As.
type ExtractionError struct {
	DocumentID ID
	Attempt    int
	Cause      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s for document %s (attempt %d)", ErrExtraction, e.DocumentID, e.Attempt)
}

func (e *ExtractionError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrExtraction}
	}
	return []error{ErrExtraction, e.Cause}
}

// SchemaError reports an extraction output that could not be parsed into an
// ExtractionResult. Raw holds the offending output verbatim.
type SchemaError struct {
	Field     string
	Reason    string
	Raw       string
	FailureID ID // Set once the failure has been persisted
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrSchema, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrSchema, e.Field, e.Reason)
}

func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema
}

func schemaErr(raw, field, format string, args ...any) *SchemaError {
	return &SchemaError{Field: field, Reason: fmt.Sprintf(format, args...), Raw: raw}
}
