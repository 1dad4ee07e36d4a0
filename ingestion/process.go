package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/dealwire/ai"
	"github.com/poiesic/dealwire/core"
)

// ClaimResult reports the outcome of a claim.
type ClaimResult struct {
	Claimed bool
	Attempt int
	Status  core.Status // Status after the call
}

// ProcessResult reports a completed attempt.
type ProcessResult struct {
	EnrichmentID core.ID
	Attempt      int
	Warnings     []string
}

// Claim atomically moves a NEW or FAILED document to PROCESSING.
// A document in any other state is left untouched and Claimed is false.
// Returns storage.ErrNotFound for unknown ids.
func (p *Pipeline) Claim(ctx context.Context, id core.ID) (ClaimResult, error) {
	doc, claimed, err := p.claim(ctx, id)
	if err != nil {
		return ClaimResult{}, err
	}
	return ClaimResult{Claimed: claimed, Attempt: doc.Attempt, Status: doc.Status}, nil
}

func (p *Pipeline) claim(ctx context.Context, id core.ID) (*core.Document, bool, error) {
	doc, claimed, err := p.documents.ClaimDocument(ctx, id, p.now())
	if err != nil {
		return nil, false, fmt.Errorf("claim document %s: %w", id, err)
	}
	if claimed {
		// Attempt 1 is the first claim; later claims can only come from FAILED.
		from := core.StatusFailed
		if doc.Attempt == 1 {
			from = core.StatusNew
		}
		p.monitor.Transitioned(doc.ID, doc.Attempt, from, core.StatusProcessing)
	}
	return doc, claimed, nil
}

// Process claims a document and runs one extraction attempt on it.
//
// The attempt always ends the document in COMPLETED or FAILED:
//   - extractor error, timeout or panic: FAILED, returns *core.ExtractionError
//   - output rejected by the result schema: FAILED, returns *core.SchemaError
//   - success: one DONE enrichment record, COMPLETED
//   - valid result that cannot be stored: FAILED, returns the storage error
//
// A refused claim returns core.ErrAlreadyProcessing without side effects.
func (p *Pipeline) Process(ctx context.Context, id core.ID) (ProcessResult, error) {
	doc, claimed, err := p.claim(ctx, id)
	if err != nil {
		return ProcessResult{}, err
	}
	if !claimed {
		return ProcessResult{Attempt: doc.Attempt},
			fmt.Errorf("document %s is %s: %w", id, doc.Status, core.ErrAlreadyProcessing)
	}
	return p.runAttempt(ctx, doc)
}

// runAttempt performs the attempt doc was just claimed for.
func (p *Pipeline) runAttempt(ctx context.Context, doc *core.Document) (ProcessResult, error) {
	result := ProcessResult{Attempt: doc.Attempt}
	logger := p.logger.With("document", doc.ID, "attempt", doc.Attempt)

	start := time.Now()
	raw, err := p.extract(ctx, buildRequest(doc, p.maxRequestChars))
	p.monitor.ExtractionFinished(doc.ID, doc.Attempt, time.Since(start), err)
	if err != nil {
		logger.Warn("extraction failed", "err", err)
		failure := &core.AttemptFailure{Kind: core.FailureExtraction, Message: describeExtractionError(err, p.extractTimeout)}
		if ferr := p.fail(ctx, doc, failure); ferr != nil {
			return result, ferr
		}
		return result, &core.ExtractionError{DocumentID: doc.ID, Attempt: doc.Attempt, Cause: err}
	}

	output, warnings, err := core.ParseExtractionResult(raw)
	if err != nil {
		var schemaErr *core.SchemaError
		if !errors.As(err, &schemaErr) {
			schemaErr = &core.SchemaError{Reason: err.Error(), Raw: raw}
		}
		logger.Warn("extraction output rejected", "field", schemaErr.Field, "reason", schemaErr.Reason)
		failure := &core.AttemptFailure{Kind: core.FailureSchema, Message: schemaErr.Error(), RawOutput: raw}
		if ferr := p.fail(ctx, doc, failure); ferr != nil {
			return result, ferr
		}
		schemaErr.FailureID = failure.ID
		return result, schemaErr
	}
	for _, w := range warnings {
		logger.Warn("extraction output accepted with warning", "warning", w)
	}

	record := &core.EnrichmentRecord{
		ID:         core.NewID(),
		DocumentID: doc.ID,
		Scope:      doc.Scope,
		Attempt:    doc.Attempt,
		Output:     output,
		Warnings:   warnings,
		Status:     core.EnrichmentDone,
		CreatedBy:  ActorFromContext(ctx),
		CreatedAt:  p.now(),
	}
	if err := p.documents.CompleteDocument(context.WithoutCancel(ctx), doc.Attempt, record); err != nil {
		err = fmt.Errorf("complete document %s: %w", doc.ID, err)
		if errors.Is(err, core.ErrStaleAttempt) {
			logger.Warn("attempt lost ownership before completing")
			return result, err
		}
		logger.Error("failed to persist enrichment", "err", err)
		failure := &core.AttemptFailure{Kind: core.FailurePersist, Message: "failed to persist enrichment"}
		if ferr := p.fail(ctx, doc, failure); ferr != nil {
			return result, errors.Join(err, ferr)
		}
		return result, err
	}
	p.monitor.Transitioned(doc.ID, doc.Attempt, core.StatusProcessing, core.StatusCompleted)
	p.monitor.Completed(record, record.CreatedAt.Sub(doc.CreatedAt))
	logger.Debug("document enriched", "enrichment", record.ID, "dealDetected", output.DealDetected)

	result.EnrichmentID = record.ID
	result.Warnings = warnings
	return result, nil
}

// extract calls the extractor under the extract timeout.
// A call that outlives the timeout is abandoned and reported as failed.
func (p *Pipeline) extract(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.extractTimeout)
	defer cancel()

	type outcome struct {
		raw string
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", errExtractorPanic, r)}
			}
		}()
		raw, err := p.extractor.Extract(ctx, text)
		done <- outcome{raw: raw, err: err}
	}()

	select {
	case o := <-done:
		if o.err == nil && ctx.Err() != nil {
			return "", ctx.Err()
		}
		return o.raw, o.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

var errExtractorPanic = errors.New("extractor panicked")

// describeExtractionError renders err without provider details.
func describeExtractionError(err error, timeout time.Duration) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("extractor timed out after %s", timeout)
	case errors.Is(err, context.Canceled):
		return "extraction cancelled"
	case errors.Is(err, errExtractorPanic):
		return "extractor panicked"
	case errors.Is(err, ai.ErrEmptyResponse):
		return "extractor returned an empty response"
	default:
		return "extractor call failed"
	}
}

// fail records failure for the attempt doc is claimed under and moves it to FAILED.
// The write is detached from ctx so a cancelled caller never strands the document.
func (p *Pipeline) fail(ctx context.Context, doc *core.Document, failure *core.AttemptFailure) error {
	failure.ID = core.NewID()
	failure.DocumentID = doc.ID
	failure.Scope = doc.Scope
	failure.Attempt = doc.Attempt
	failure.CreatedAt = p.now()

	if err := p.documents.FailDocument(context.WithoutCancel(ctx), doc.Attempt, failure); err != nil {
		return fmt.Errorf("record failure of document %s: %w", doc.ID, err)
	}
	p.monitor.Transitioned(doc.ID, doc.Attempt, core.StatusProcessing, core.StatusFailed)
	p.monitor.AttemptFailed(failure)
	return nil
}
