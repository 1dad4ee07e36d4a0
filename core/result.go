package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxReasoningRunes caps the free-text reasoning kept on a result.
const MaxReasoningRunes = 4000

// DealType classifies a detected private-markets deal.
type DealType string

const (
	DealFundraise   DealType = "fundraise"
	DealInvestment  DealType = "investment"
	DealAcquisition DealType = "acquisition"
	DealExit        DealType = "exit"
)

// ParseDealType matches s case-insensitively against the known deal types.
func ParseDealType(s string) (DealType, bool) {
	switch dt := DealType(strings.ToLower(strings.TrimSpace(s))); dt {
	case DealFundraise, DealInvestment, DealAcquisition, DealExit:
		return dt, true
	}
	return "", false
}

// Entities groups the organization names mentioned in a deal.
// Each list is a set: order is irrelevant and names are unique.
type Entities struct {
	GeneralPartners    []string `json:"generalPartners"`
	Funds              []string `json:"funds"`
	PortfolioCompanies []string `json:"portfolioCompanies"`
	LimitedPartners    []string `json:"limitedPartners"`
	ServiceProviders   []string `json:"serviceProviders"`
}

// Empty reports whether no entity of any kind was extracted.
func (e Entities) Empty() bool {
	return len(e.GeneralPartners) == 0 && len(e.Funds) == 0 && len(e.PortfolioCompanies) == 0 &&
		len(e.LimitedPartners) == 0 && len(e.ServiceProviders) == 0
}

func (e *Entities) normalize() {
	for _, l := range []*[]string{&e.GeneralPartners, &e.Funds, &e.PortfolioCompanies, &e.LimitedPartners, &e.ServiceProviders} {
		if *l == nil {
			*l = []string{}
		}
	}
}

type Amount struct {
	Value    *float64 `json:"value"`
	Currency *string  `json:"currency"`
}

type Geography struct {
	Country *string `json:"country"`
	City    *string `json:"city"`
}

// ExtractionResult is the validated, typed output of one extraction.
type ExtractionResult struct {
	DealDetected     bool      `json:"dealDetected"`
	DealType         *DealType `json:"dealType"`
	Entities         Entities  `json:"entities"`
	Amount           Amount    `json:"amount"`
	Geography        Geography `json:"geography"`
	AnnouncementDate *string   `json:"announcementDate"` // YYYY-MM-DD
	ConfidenceScore  int       `json:"confidenceScore"`
	Reasoning        string    `json:"reasoning"`
}

// hasDealData reports whether any deal-specific field carries a value.
func (r *ExtractionResult) hasDealData() bool {
	return r.DealType != nil || !r.Entities.Empty() || r.Amount.Value != nil || r.Amount.Currency != nil ||
		r.Geography.Country != nil || r.Geography.City != nil || r.AnnouncementDate != nil
}

// ParseExtractionResult parses untrusted extractor output into an ExtractionResult.
//
// Hard rules (violations return *SchemaError):
//   - output must be a single JSON object
//   - dealDetected must be a boolean; confidenceScore an integer in [0,100]; reasoning a string
//   - dealType, when present, must be one of the known deal types (any case)
//   - entity lists must be arrays of strings
//   - amount.value, when present, must be a non-negative number
//   - announcementDate, when present, must be an ISO-8601 date or RFC 3339 timestamp
//
// Soft rules (accepted, reported as warnings):
//   - dealDetected=false with deal-specific fields set
//   - reasoning longer than MaxReasoningRunes is truncated
func ParseExtractionResult(raw string) (ExtractionResult, []string, error) {
	var result ExtractionResult
	var warnings []string

	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(raw)))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return result, nil, schemaErr(raw, "", "output is not a JSON object: %v", err)
	}
	if obj == nil {
		return result, nil, schemaErr(raw, "", "output is not a JSON object")
	}
	if dec.More() {
		return result, nil, schemaErr(raw, "", "unexpected data after JSON object")
	}

	detected, ok := obj["dealDetected"].(bool)
	if !ok {
		return result, nil, schemaErr(raw, "dealDetected", "must be a boolean")
	}
	result.DealDetected = detected

	score, err := parseConfidence(obj["confidenceScore"])
	if err != nil {
		return result, nil, schemaErr(raw, "confidenceScore", "%v", err)
	}
	result.ConfidenceScore = score

	reasoning, ok := obj["reasoning"].(string)
	if !ok {
		return result, nil, schemaErr(raw, "reasoning", "must be a string")
	}
	if utf8.RuneCountInString(reasoning) > MaxReasoningRunes {
		reasoning = string([]rune(reasoning)[:MaxReasoningRunes])
		warnings = append(warnings, fmt.Sprintf("reasoning truncated to %d characters", MaxReasoningRunes))
	}
	result.Reasoning = reasoning

	if v, present := obj["dealType"]; present && v != nil {
		s, ok := v.(string)
		if !ok {
			return result, nil, schemaErr(raw, "dealType", "must be a string or null")
		}
		dt, ok := ParseDealType(s)
		if !ok {
			return result, nil, schemaErr(raw, "dealType", "unknown deal type %q", s)
		}
		result.DealType = &dt
	}

	if err := parseEntities(obj["entities"], &result.Entities); err != nil {
		var se *SchemaError
		if errors.As(err, &se) {
			se.Raw = raw
		}
		return result, nil, err
	}
	result.Entities.normalize()

	if v, present := obj["amount"]; present && v != nil {
		m, ok := v.(map[string]any)
		if !ok {
			return result, nil, schemaErr(raw, "amount", "must be an object or null")
		}
		if val, present := m["value"]; present && val != nil {
			n, ok := val.(json.Number)
			if !ok {
				return result, nil, schemaErr(raw, "amount.value", "must be a number or null")
			}
			f, err := n.Float64()
			if err != nil || math.IsInf(f, 0) || f < 0 {
				return result, nil, schemaErr(raw, "amount.value", "must be a non-negative number")
			}
			result.Amount.Value = &f
		}
		cur, err := optionalString(m["currency"])
		if err != nil {
			return result, nil, schemaErr(raw, "amount.currency", "%v", err)
		}
		if cur != nil {
			upper := strings.ToUpper(*cur)
			cur = &upper
		}
		result.Amount.Currency = cur
	}

	if v, present := obj["geography"]; present && v != nil {
		m, ok := v.(map[string]any)
		if !ok {
			return result, nil, schemaErr(raw, "geography", "must be an object or null")
		}
		if result.Geography.Country, err = optionalString(m["country"]); err != nil {
			return result, nil, schemaErr(raw, "geography.country", "%v", err)
		}
		if result.Geography.City, err = optionalString(m["city"]); err != nil {
			return result, nil, schemaErr(raw, "geography.city", "%v", err)
		}
	}

	date, err := optionalString(obj["announcementDate"])
	if err != nil {
		return result, nil, schemaErr(raw, "announcementDate", "%v", err)
	}
	if date != nil {
		d, err := parseDate(*date)
		if err != nil {
			return result, nil, schemaErr(raw, "announcementDate", "%v", err)
		}
		result.AnnouncementDate = &d
	}

	if !result.DealDetected && result.hasDealData() {
		warnings = append(warnings, "dealDetected is false but deal fields are populated")
	}

	return result, warnings, nil
}

func parseConfidence(v any) (int, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, errors.New("must be an integer")
	}
	i, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("must be an integer, got %s", n)
	}
	if i < 0 || i > 100 {
		return 0, fmt.Errorf("must be in [0,100], got %d", i)
	}
	return int(i), nil
}

func parseEntities(v any, out *Entities) error {
	if v == nil {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return &SchemaError{Field: "entities", Reason: "must be an object"}
	}
	lists := []struct {
		key string
		dst *[]string
	}{
		{"generalPartners", &out.GeneralPartners},
		{"funds", &out.Funds},
		{"portfolioCompanies", &out.PortfolioCompanies},
		{"limitedPartners", &out.LimitedPartners},
		{"serviceProviders", &out.ServiceProviders},
	}
	for _, l := range lists {
		raw, present := m[l.key]
		if !present || raw == nil {
			continue
		}
		items, ok := raw.([]any)
		if !ok {
			return &SchemaError{Field: "entities." + l.key, Reason: "must be an array of strings"}
		}
		names, err := nameSet(items)
		if err != nil {
			return &SchemaError{Field: "entities." + l.key, Reason: err.Error()}
		}
		*l.dst = names
	}
	return nil
}

// nameSet trims names, drops empty ones and removes duplicates, keeping first-seen order.
func nameSet(items []any) ([]string, error) {
	seen := make(map[string]struct{}, len(items))
	names := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, errors.New("must be an array of strings")
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		names = append(names, s)
	}
	return names, nil
}

func optionalString(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, errors.New("must be a string or null")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	return &s, nil
}

func parseDate(s string) (string, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.Format(time.DateOnly), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Format(time.DateOnly), nil
	}
	return "", fmt.Errorf("must be an ISO-8601 date, got %q", s)
}

// MarshalResult encodes a result in its canonical JSON form.
func MarshalResult(r ExtractionResult) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// UnmarshalResult decodes a result previously encoded with MarshalResult.
// Stored results were validated on write and are trusted.
func UnmarshalResult(s string) (ExtractionResult, error) {
	var r ExtractionResult
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return r, err
	}
	r.Entities.normalize()
	return r, nil
}
