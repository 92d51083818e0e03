// Package response turns free-form model output into typed classification
// and analysis results.
package response

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/voc-classifier/internal/model"
)

// maxRawLen caps the raw model text carried on a ParseError.
const maxRawLen = 500

// Kind classifies a parse failure.
type Kind string

const (
	// KindInvalidJSON means no JSON object could be decoded from the text.
	KindInvalidJSON Kind = "invalid_json"
	// KindMissingField means a required key was absent.
	KindMissingField Kind = "missing_field"
)

// ParseError reports model output that could not be turned into a result.
type ParseError struct {
	Kind  Kind
	Field string // set for KindMissingField
	Raw   string // truncated model text
	Err   error
}

func (e *ParseError) Error() string {
	if e.Kind == KindMissingField {
		return fmt.Sprintf("response: missing field %s", e.Field)
	}
	return fmt.Sprintf("response: invalid json: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// payload mirrors the requested layout with pointers so absent keys are
// distinguishable from zero values.
type payload struct {
	Classification *struct {
		Category     *string                     `json:"category"`
		CategoryID   *string                     `json:"category_id"`
		Confidence   *float64                    `json:"confidence"`
		Alternatives []model.AlternativeCategory `json:"alternative_categories"`
	} `json:"classification"`
	Analysis *struct {
		ProblemSituation *string `json:"problem_situation"`
		SolutionApproach *string `json:"solution_approach"`
		ExpectedOutcome  *string `json:"expected_outcome"`
	} `json:"analysis"`
}

// Parser decodes model output against the category set used to build the prompt.
type Parser struct {
	fallbackID string
}

// NewParser creates a Parser that resolves unknown categories to fallbackID.
func NewParser(fallbackID string) *Parser {
	return &Parser{fallbackID: fallbackID}
}

// FallbackID returns the id used when a category cannot be resolved.
func (p *Parser) FallbackID() string { return p.fallbackID }

// Parse extracts the JSON object from raw, validates the required keys and
// resolves the category id against known. A payload category_id is kept only
// when it names a known category; otherwise the category name is matched
// exactly after NFC normalization, and failing that the fallback id is used.
func (p *Parser) Parse(raw string, known []model.Category) (model.ClassificationResult, model.AnalysisResult, error) {
	var (
		cls      model.ClassificationResult
		analysis model.AnalysisResult
	)

	var pl payload
	if err := json.Unmarshal([]byte(ExtractJSON(raw)), &pl); err != nil {
		return cls, analysis, &ParseError{Kind: KindInvalidJSON, Raw: truncate(raw), Err: err}
	}

	if field := missingField(&pl); field != "" {
		return cls, analysis, &ParseError{Kind: KindMissingField, Field: field, Raw: truncate(raw)}
	}

	c := pl.Classification
	cls.Category = strings.TrimSpace(*c.Category)
	cls.Confidence = clamp(*c.Confidence)
	cls.AlternativeCategories = make([]model.AlternativeCategory, 0, len(c.Alternatives))
	for _, alt := range c.Alternatives {
		cls.AlternativeCategories = append(cls.AlternativeCategories, model.AlternativeCategory{
			Category:   alt.Category,
			Confidence: clamp(alt.Confidence),
		})
	}

	var payloadID string
	if c.CategoryID != nil {
		payloadID = strings.TrimSpace(*c.CategoryID)
	}
	cls.CategoryID = p.resolve(cls.Category, payloadID, known)

	a := pl.Analysis
	analysis.ProblemSituation = *a.ProblemSituation
	analysis.SolutionApproach = *a.SolutionApproach
	analysis.ExpectedOutcome = *a.ExpectedOutcome

	return cls, analysis, nil
}

func (p *Parser) resolve(name, payloadID string, known []model.Category) string {
	if payloadID != "" {
		if _, ok := model.CategoryByID(known, payloadID); ok {
			return payloadID
		}
	}

	want := normalize(name)
	for _, c := range known {
		if normalize(c.Name) == want {
			return c.ID
		}
	}

	zap.L().Warn("response: category not in taxonomy, using fallback",
		zap.String("category", name),
		zap.String("payload_category_id", payloadID),
		zap.String("fallback_id", p.fallbackID),
	)
	return p.fallbackID
}

func missingField(pl *payload) string {
	c := pl.Classification
	switch {
	case c == nil:
		return "classification"
	case c.Category == nil:
		return "classification.category"
	case c.Confidence == nil:
		return "classification.confidence"
	}

	a := pl.Analysis
	switch {
	case a == nil:
		return "analysis"
	case a.ProblemSituation == nil:
		return "analysis.problem_situation"
	case a.SolutionApproach == nil:
		return "analysis.solution_approach"
	case a.ExpectedOutcome == nil:
		return "analysis.expected_outcome"
	}
	return ""
}

// Marshal renders the persisted analysis_result layout. Parse accepts its output.
func Marshal(cls model.ClassificationResult, analysis model.AnalysisResult) ([]byte, error) {
	return json.Marshal(model.NewAnalysisDocument(cls, analysis))
}

// ExtractJSON strips a markdown code fence (```json or bare ```) if one is
// present anywhere in text, then trims to the outermost braces.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)

	if idx := strings.Index(text, "```json"); idx >= 0 {
		text = text[idx+len("```json"):]
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	} else if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+len("```"):]
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

func normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func truncate(s string) string {
	if len(s) <= maxRawLen {
		return s
	}
	// Back off to a rune boundary.
	cut := maxRawLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
