package api

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/poiesic/dealwire/core"
	"github.com/poiesic/dealwire/ingestion"
	"github.com/poiesic/dealwire/metrics"
	"github.com/poiesic/dealwire/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type ingestBody struct {
	Scope        string  `json:"scope"`
	Headline     string  `json:"headline"`
	SourceName   string  `json:"sourceName"`
	PublishDate  string  `json:"publishDate"` // RFC 3339 timestamp or YYYY-MM-DD
	CanonicalURL string  `json:"canonicalUrl"`
	RawText      *string `json:"rawText"`
	CreatedBy    string  `json:"createdBy"`
}

type ingestResponse struct {
	DocumentID   core.ID `json:"documentId"`
	Deduplicated bool    `json:"deduplicated"`
}

type processResponse struct {
	EnrichmentID core.ID  `json:"enrichmentId"`
	Attempt      int      `json:"attempt"`
	Warnings     []string `json:"warnings"`
}

type retryResponse struct {
	Requeued     bool       `json:"requeued"`
	Attempt      int        `json:"attempt"`
	EnrichmentID core.ID    `json:"enrichmentId,omitempty"`
	Error        *errorBody `json:"error,omitempty"`
}

type documentView struct {
	ID                  core.ID     `json:"id"`
	Scope               string      `json:"scope"`
	Headline            string      `json:"headline"`
	SourceName          string      `json:"sourceName"`
	PublishDate         time.Time   `json:"publishDate"`
	CanonicalURL        string      `json:"canonicalUrl"`
	RawText             *string     `json:"rawText,omitempty"`
	Status              core.Status `json:"status"`
	Attempt             int         `json:"attempt"`
	FailureReason       string      `json:"failureReason,omitempty"`
	CreatedBy           string      `json:"createdBy,omitempty"`
	ProcessingStartedAt *time.Time  `json:"processingStartedAt,omitempty"`
	CompletedAt         *time.Time  `json:"completedAt,omitempty"`
	CreatedAt           time.Time   `json:"createdAt"`
	UpdatedAt           time.Time   `json:"updatedAt"`
}

type enrichmentSummary struct {
	EnrichmentID    core.ID        `json:"enrichmentId"`
	DealDetected    bool           `json:"dealDetected"`
	DealType        *core.DealType `json:"dealType"`
	ConfidenceScore int            `json:"confidenceScore"`
	CreatedAt       time.Time      `json:"createdAt"`
}

type listItem struct {
	documentView
	Latest *enrichmentSummary `json:"latestEnrichment"`
}

type enrichmentView struct {
	ID        core.ID               `json:"id"`
	Attempt   int                   `json:"attempt"`
	Status    core.EnrichmentStatus `json:"status"`
	Output    core.ExtractionResult `json:"output"`
	Warnings  []string              `json:"warnings,omitempty"`
	CreatedBy string                `json:"createdBy,omitempty"`
	CreatedAt time.Time             `json:"createdAt"`
}

type failureView struct {
	ID        core.ID          `json:"id"`
	Attempt   int              `json:"attempt"`
	Kind      core.FailureKind `json:"kind"`
	Message   string           `json:"message"`
	RawOutput string           `json:"rawOutput,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

type detailResponse struct {
	Document    documentView     `json:"document"`
	Enrichments []enrichmentView `json:"enrichments"`
	Failures    []failureView    `json:"failures"`
}

type latencyView struct {
	P50Ms   int64 `json:"p50Ms"`
	P90Ms   int64 `json:"p90Ms"`
	Samples int   `json:"samples"`
}

type backlogResponse struct {
	Scope   string          `json:"scope,omitempty"`
	Backlog metrics.Backlog `json:"backlog"`
	Latency latencyView     `json:"latency"`
}

func (s *Server) ingest(c *gin.Context) {
	var body ingestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.writeError(c, &core.ValidationError{Field: "body", Reason: "must be a JSON object"})
		return
	}
	publishDate, err := parsePublishDate(body.PublishDate)
	if err != nil {
		s.writeError(c, err)
		return
	}

	res, err := s.pipeline.Ingest(c.Request.Context(), ingestion.IngestRequest{
		Scope:        body.Scope,
		Headline:     body.Headline,
		SourceName:   body.SourceName,
		PublishDate:  publishDate,
		CanonicalURL: body.CanonicalURL,
		RawText:      body.RawText,
		CreatedBy:    body.CreatedBy,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Deduplicated {
		status = http.StatusOK
	}
	c.JSON(status, ingestResponse{DocumentID: res.DocumentID, Deduplicated: res.Deduplicated})
}

// parsePublishDate accepts an RFC 3339 timestamp or a plain date. Empty yields
// the zero time, which ingestion rejects as missing.
func parsePublishDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, &core.ValidationError{Field: "publishDate", Reason: "must be an RFC 3339 timestamp or YYYY-MM-DD date"}
}

func (s *Server) process(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	res, err := s.pipeline.Process(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	warnings := res.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	c.JSON(http.StatusOK, processResponse{EnrichmentID: res.EnrichmentID, Attempt: res.Attempt, Warnings: warnings})
}

func (s *Server) retry(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	res, err := s.pipeline.Retry(c.Request.Context(), id)
	resp := retryResponse{Requeued: res.Requeued, Attempt: res.Attempt, EnrichmentID: res.EnrichmentID}
	if err != nil {
		if !res.Requeued {
			s.writeError(c, err)
			return
		}
		// The re-run attempt happened and failed; report its outcome.
		_, body := classify(err)
		resp.Error = &body
		_ = c.Error(err)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listDocuments(c *gin.Context) {
	filter := storage.DocumentFilter{
		Scope: strings.TrimSpace(c.Query("scope")),
		Limit: defaultListLimit,
	}
	if raw := c.Query("status"); raw != "" {
		status := core.Status(strings.ToUpper(raw))
		if !slices.Contains(core.Statuses, status) {
			s.writeError(c, &core.ValidationError{Field: "status", Reason: "must be one of NEW, PROCESSING, COMPLETED, FAILED"})
			return
		}
		filter.Status = status
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			s.writeError(c, &core.ValidationError{Field: "limit", Reason: "must be a positive integer"})
			return
		}
		filter.Limit = min(limit, maxListLimit)
	}

	ctx := c.Request.Context()
	docs, err := s.documents.ListDocuments(ctx, filter)
	if err != nil {
		s.writeError(c, err)
		return
	}

	items := make([]listItem, 0, len(docs))
	for _, doc := range docs {
		item := listItem{documentView: viewDocument(doc, false)}
		record, err := s.enrichments.LatestEnrichment(ctx, doc.ID)
		switch {
		case err == nil:
			item.Latest = &enrichmentSummary{
				EnrichmentID:    record.ID,
				DealDetected:    record.Output.DealDetected,
				DealType:        record.Output.DealType,
				ConfidenceScore: record.Output.ConfidenceScore,
				CreatedAt:       record.CreatedAt,
			}
		case errors.Is(err, storage.ErrNotFound):
		default:
			s.writeError(c, err)
			return
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"documents": items, "count": len(items)})
}

func (s *Server) getDocument(c *gin.Context) {
	id, ok := s.pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	doc, err := s.documents.GetDocument(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	records, err := s.enrichments.ListEnrichments(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	failures, err := s.enrichments.ListFailures(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp := detailResponse{
		Document:    viewDocument(doc, true),
		Enrichments: make([]enrichmentView, 0, len(records)),
		Failures:    make([]failureView, 0, len(failures)),
	}
	for _, r := range records {
		resp.Enrichments = append(resp.Enrichments, enrichmentView{
			ID:        r.ID,
			Attempt:   r.Attempt,
			Status:    r.Status,
			Output:    r.Output,
			Warnings:  r.Warnings,
			CreatedBy: r.CreatedBy,
			CreatedAt: r.CreatedAt,
		})
	}
	for _, f := range failures {
		resp.Failures = append(resp.Failures, failureView{
			ID:        f.ID,
			Attempt:   f.Attempt,
			Kind:      f.Kind,
			Message:   f.Message,
			RawOutput: f.RawOutput,
			CreatedAt: f.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) health(c *gin.Context) {
	scope := strings.TrimSpace(c.Query("scope"))
	if scope == "" {
		s.writeError(c, &core.ValidationError{Field: "scope"})
		return
	}
	m, err := s.aggregates.Health(c.Request.Context(), scope)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) backlog(c *gin.Context) {
	m, err := s.aggregates.Backlog(c.Request.Context(), strings.TrimSpace(c.Query("scope")))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, backlogResponse{
		Scope:   m.Scope,
		Backlog: m.Backlog,
		Latency: latencyView{
			P50Ms:   m.Latency.P50.Milliseconds(),
			P90Ms:   m.Latency.P90.Milliseconds(),
			Samples: m.Latency.Samples,
		},
	})
}

// pathID parses the :id parameter, writing a 400 response when it is malformed.
func (s *Server) pathID(c *gin.Context) (core.ID, bool) {
	id, err := core.ParseID(c.Param("id"))
	if err != nil {
		s.writeError(c, &core.ValidationError{Field: "id", Reason: "must be a document id"})
		return "", false
	}
	return id, true
}

func viewDocument(doc *core.Document, withText bool) documentView {
	v := documentView{
		ID:            doc.ID,
		Scope:         doc.Scope,
		Headline:      doc.Headline,
		SourceName:    doc.SourceName,
		PublishDate:   doc.PublishDate,
		CanonicalURL:  doc.CanonicalURL,
		Status:        doc.Status,
		Attempt:       doc.Attempt,
		FailureReason: doc.FailureReason,
		CreatedBy:     doc.CreatedBy,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
	if withText {
		v.RawText = doc.RawText
	}
	if !doc.ProcessingStartedAt.IsZero() {
		t := doc.ProcessingStartedAt
		v.ProcessingStartedAt = &t
	}
	if !doc.CompletedAt.IsZero() {
		t := doc.CompletedAt
		v.CompletedAt = &t
	}
	return v
}
