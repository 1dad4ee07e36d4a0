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
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

// ValidateDocument validates a Document before it is first stored.
//
// Validation rules:
//   - Scope, Headline, SourceName and CanonicalURL must not be blank
//   - Scope must not contain control characters
//   - PublishDate must be set
//   - CanonicalURL must be an absolute http(s) URL
//
// NOT validated:
//   - RawText (optional)
//   - Status and Attempt (assigned by the pipeline)
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return &ValidationError{Field: "document"}
	}
	required := []struct {
		field string
		value string
	}{
		{"scope", doc.Scope},
		{"headline", doc.Headline},
		{"sourceName", doc.SourceName},
		{"canonicalUrl", doc.CanonicalURL},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &ValidationError{Field: r.field}
		}
	}
	if strings.ContainsFunc(doc.Scope, unicode.IsControl) {
		return &ValidationError{Field: "scope", Reason: "must not contain control characters"}
	}
	if doc.PublishDate.IsZero() {
		return &ValidationError{Field: "publishDate"}
	}
	if _, err := NormalizeURL(doc.CanonicalURL); err != nil {
		return err
	}
	return nil
}

// NormalizeURL returns the canonical form of a document URL: surrounding
// whitespace trimmed, scheme and host lowercased, fragment dropped.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", &ValidationError{Field: "canonicalUrl", Reason: "is not a valid URL"}
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &ValidationError{Field: "canonicalUrl", Reason: "must be an absolute http(s) URL"}
	}
	if u.Host == "" {
		return "", &ValidationError{Field: "canonicalUrl", Reason: "must include a host"}
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// CanTransition reports whether a document may move from one status to another.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusNew:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	case StatusFailed:
		return to == StatusProcessing
	default:
		return false
	}
}

// CheckTransition is CanTransition returning an error suitable for wrapping.
func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
