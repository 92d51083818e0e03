package model

// AlternativeCategory is a lower-ranked category suggested by the model.
type AlternativeCategory struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// ClassificationResult is the category decision for one transcript.
// Confidence values are each in [0,1]; they are not required to sum to 1.
type ClassificationResult struct {
	Category              string                `json:"category"`
	CategoryID            string                `json:"category_id,omitempty"`
	Confidence            float64               `json:"confidence"`
	AlternativeCategories []AlternativeCategory `json:"alternative_categories"`
}

// AnalysisResult holds the free-text analysis produced alongside the classification.
type AnalysisResult struct {
	ProblemSituation string `json:"problem_situation"`
	SolutionApproach string `json:"solution_approach"`
	ExpectedOutcome  string `json:"expected_outcome"`
}

// AnalysisDocument is the JSON blob persisted in the analysis_result column.
type AnalysisDocument struct {
	Classification ClassificationResult `json:"classification"`
	Analysis       AnalysisResult       `json:"analysis"`
}

// NewAnalysisDocument pairs a classification with its analysis.
func NewAnalysisDocument(cls ClassificationResult, analysis AnalysisResult) AnalysisDocument {
	alts := make([]AlternativeCategory, 0, len(cls.AlternativeCategories))
	cls.AlternativeCategories = append(alts, cls.AlternativeCategories...)
	return AnalysisDocument{Classification: cls, Analysis: analysis}
}
