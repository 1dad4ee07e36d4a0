package core

import (
	"testing"
	"time"
)

func TestNewID_Unique(t *testing.T) {
	id1 := NewID()
	id2 := NewID()

	if id1 == id2 {
		t.Errorf("NewID() produced the same ID twice: %s", id1)
	}
	if _, err := ParseID(id1.String()); err != nil {
		t.Errorf("ParseID(NewID()) error = %v", err)
	}
}

func TestParseID_Invalid(t *testing.T) {
	if _, err := ParseID("not-a-uuid"); err == nil {
		t.Error("ParseID() expected error for malformed id")
	}
}

func TestDedupKey(t *testing.T) {
	tests := []struct {
		name     string
		scopeA   string
		urlA     string
		scopeB   string
		urlB     string
		wantSame bool
	}{
		{
			name:     "same pair produces same key",
			scopeA:   "acme",
			urlA:     "https://news.example.com/a",
			scopeB:   "acme",
			urlB:     "https://news.example.com/a",
			wantSame: true,
		},
		{
			name:     "different scope",
			scopeA:   "acme",
			urlA:     "https://news.example.com/a",
			scopeB:   "globex",
			urlB:     "https://news.example.com/a",
			wantSame: false,
		},
		{
			name:     "separator prevents boundary collisions",
			scopeA:   "ab",
			urlA:     "c",
			scopeB:   "a",
			urlB:     "bc",
			wantSame: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := DedupKey(tt.scopeA, tt.urlA)
			b := DedupKey(tt.scopeB, tt.urlB)
			if (a == b) != tt.wantSame {
				t.Errorf("DedupKey() same = %v, want %v", a == b, tt.wantSame)
			}
			if len(a) != 64 {
				t.Errorf("DedupKey() length = %d, want 64", len(a))
			}
		})
	}
}

func TestStatus_Claimable(t *testing.T) {
	want := map[Status]bool{
		StatusNew:        true,
		StatusProcessing: false,
		StatusCompleted:  false,
		StatusFailed:     true,
	}
	for status, claimable := range want {
		if got := status.Claimable(); got != claimable {
			t.Errorf("%s.Claimable() = %v, want %v", status, got, claimable)
		}
	}
}

func TestLatest(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	older := &EnrichmentRecord{ID: "a", Status: EnrichmentDone, CreatedAt: base}
	newer := &EnrichmentRecord{ID: "b", Status: EnrichmentDone, CreatedAt: base.Add(time.Minute)}
	errored := &EnrichmentRecord{ID: "c", Status: EnrichmentError, CreatedAt: base.Add(time.Hour)}

	if got := Latest([]*EnrichmentRecord{older, errored, newer}); got != newer {
		t.Errorf("Latest() = %v, want newest DONE record", got)
	}
	if got := Latest([]*EnrichmentRecord{errored}); got != nil {
		t.Errorf("Latest() = %v, want nil when only ERROR records exist", got)
	}
	if got := Latest(nil); got != nil {
		t.Errorf("Latest(nil) = %v, want nil", got)
	}
}

func TestDocument_Text(t *testing.T) {
	doc := &Document{}
	if doc.Text() != "" {
		t.Errorf("Text() = %q, want empty", doc.Text())
	}
	body := "body"
	doc.RawText = &body
	if doc.Text() != "body" {
		t.Errorf("Text() = %q, want %q", doc.Text(), "body")
	}
}
