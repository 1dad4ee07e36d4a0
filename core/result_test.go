package core

import (
	"errors"
	"strings"
	"testing"
)

const fundraiseOutput = `{
  "dealDetected": true,
  "dealType": "Fundraise",
  "entities": {
    "generalPartners": ["Northwind Capital", " Northwind Capital ", ""],
    "funds": ["Northwind Fund III"],
    "portfolioCompanies": [],
    "limitedPartners": ["State Pension Plan"]
  },
  "amount": {"value": 400000000, "currency": "usd"},
  "geography": {"country": "US", "city": null},
  "announcementDate": "2025-03-01T09:30:00Z",
  "confidenceScore": 92,
  "reasoning": "The article announces the final close of Fund III."
}`

func TestParseExtractionResult_Valid(t *testing.T) {
	result, warnings, err := ParseExtractionResult(fundraiseOutput)
	if err != nil {
		t.Fatalf("ParseExtractionResult() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}
	if !result.DealDetected {
		t.Error("DealDetected = false, want true")
	}
	if result.DealType == nil || *result.DealType != DealFundraise {
		t.Errorf("DealType = %v, want fundraise", result.DealType)
	}
	if got := result.Entities.GeneralPartners; len(got) != 1 || got[0] != "Northwind Capital" {
		t.Errorf("GeneralPartners = %v, want deduplicated single name", got)
	}
	if result.Entities.ServiceProviders == nil {
		t.Error("ServiceProviders = nil, want empty set")
	}
	if result.Amount.Value == nil || *result.Amount.Value != 400000000 {
		t.Errorf("Amount.Value = %v", result.Amount.Value)
	}
	if result.Amount.Currency == nil || *result.Amount.Currency != "USD" {
		t.Errorf("Amount.Currency = %v, want USD", result.Amount.Currency)
	}
	if result.Geography.City != nil {
		t.Errorf("Geography.City = %v, want nil", *result.Geography.City)
	}
	if result.AnnouncementDate == nil || *result.AnnouncementDate != "2025-03-01" {
		t.Errorf("AnnouncementDate = %v, want 2025-03-01", result.AnnouncementDate)
	}
	if result.ConfidenceScore != 92 {
		t.Errorf("ConfidenceScore = %d, want 92", result.ConfidenceScore)
	}
}

func TestParseExtractionResult_SchemaErrors(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantField string
	}{
		{
			name:      "confidence above range",
			raw:       `{"dealDetected": true, "confidenceScore": 150, "reasoning": "x"}`,
			wantField: "confidenceScore",
		},
		{
			name:      "negative confidence",
			raw:       `{"dealDetected": true, "confidenceScore": -1, "reasoning": "x"}`,
			wantField: "confidenceScore",
		},
		{
			name:      "fractional confidence",
			raw:       `{"dealDetected": true, "confidenceScore": 87.5, "reasoning": "x"}`,
			wantField: "confidenceScore",
		},
		{
			name:      "confidence as string",
			raw:       `{"dealDetected": true, "confidenceScore": "90", "reasoning": "x"}`,
			wantField: "confidenceScore",
		},
		{
			name:      "missing dealDetected",
			raw:       `{"confidenceScore": 50, "reasoning": "x"}`,
			wantField: "dealDetected",
		},
		{
			name:      "missing reasoning",
			raw:       `{"dealDetected": false, "confidenceScore": 50}`,
			wantField: "reasoning",
		},
		{
			name:      "unknown deal type",
			raw:       `{"dealDetected": true, "dealType": "merger", "confidenceScore": 50, "reasoning": "x"}`,
			wantField: "dealType",
		},
		{
			name:      "entity list of numbers",
			raw:       `{"dealDetected": true, "entities": {"funds": [1, 2]}, "confidenceScore": 50, "reasoning": "x"}`,
			wantField: "entities.funds",
		},
		{
			name:      "negative amount",
			raw:       `{"dealDetected": true, "amount": {"value": -5}, "confidenceScore": 50, "reasoning": "x"}`,
			wantField: "amount.value",
		},
		{
			name:      "malformed date",
			raw:       `{"dealDetected": true, "announcementDate": "March 1st", "confidenceScore": 50, "reasoning": "x"}`,
			wantField: "announcementDate",
		},
		{
			name: "not json",
			raw:  `I could not find a deal in this article.`,
		},
		{
			name: "json array",
			raw:  `[1, 2, 3]`,
		},
		{
			name: "null",
			raw:  `null`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseExtractionResult(tt.raw)
			if !errors.Is(err, ErrSchema) {
				t.Fatalf("ParseExtractionResult() error = %v, want ErrSchema", err)
			}
			var se *SchemaError
			if !errors.As(err, &se) {
				t.Fatalf("error is not *SchemaError: %T", err)
			}
			if se.Field != tt.wantField {
				t.Errorf("SchemaError.Field = %q, want %q", se.Field, tt.wantField)
			}
			if se.Raw != tt.raw {
				t.Errorf("SchemaError.Raw not preserved verbatim")
			}
		})
	}
}

func TestParseExtractionResult_NoDealWithDealDataWarns(t *testing.T) {
	raw := `{"dealDetected": false, "dealType": "exit", "confidenceScore": 30, "reasoning": "ambiguous"}`

	result, warnings, err := ParseExtractionResult(raw)
	if err != nil {
		t.Fatalf("ParseExtractionResult() error = %v, want accepted", err)
	}
	if result.DealDetected {
		t.Error("DealDetected = true, want false")
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "dealDetected") {
		t.Errorf("warnings = %v, want dealDetected warning", warnings)
	}
}

func TestParseExtractionResult_TruncatesReasoning(t *testing.T) {
	long := strings.Repeat("é", MaxReasoningRunes+10)
	raw := `{"dealDetected": false, "confidenceScore": 10, "reasoning": "` + long + `"}`

	result, warnings, err := ParseExtractionResult(raw)
	if err != nil {
		t.Fatalf("ParseExtractionResult() error = %v", err)
	}
	if n := len([]rune(result.Reasoning)); n != MaxReasoningRunes {
		t.Errorf("reasoning length = %d, want %d", n, MaxReasoningRunes)
	}
	if len(warnings) != 1 {
		t.Errorf("warnings = %v, want truncation warning", warnings)
	}
}

func TestMarshalResult_RoundTrip(t *testing.T) {
	result, _, err := ParseExtractionResult(fundraiseOutput)
	if err != nil {
		t.Fatalf("ParseExtractionResult() error = %v", err)
	}
	encoded, err := MarshalResult(result)
	if err != nil {
		t.Fatalf("MarshalResult() error = %v", err)
	}
	reparsed, warnings, err := ParseExtractionResult(encoded)
	if err != nil {
		t.Fatalf("canonical form rejected: %v", err)
	}
	if len(warnings) != 0 || reparsed.ConfidenceScore != result.ConfidenceScore {
		t.Errorf("canonical form changed on reparse: %+v", reparsed)
	}
	decoded, err := UnmarshalResult(encoded)
	if err != nil {
		t.Fatalf("UnmarshalResult() error = %v", err)
	}
	if *decoded.DealType != DealFundraise || decoded.Entities.PortfolioCompanies == nil {
		t.Errorf("UnmarshalResult() = %+v", decoded)
	}
}

func TestExtractionError_HidesCause(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.7:443: secret-token rejected")
	err := &ExtractionError{DocumentID: "doc-1", Attempt: 2, Cause: cause}

	if strings.Contains(err.Error(), "secret-token") {
		t.Errorf("Error() leaks cause: %s", err.Error())
	}
	if !errors.Is(err, ErrExtraction) || !errors.Is(err, cause) {
		t.Error("ExtractionError must match ErrExtraction and its cause")
	}
}
