// Package pipeline classifies a single consulting transcript: taxonomy
// lookup, prompt build, one model call and response parsing.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/voc-classifier/internal/llm"
	"github.com/sells-group/voc-classifier/internal/model"
	"github.com/sells-group/voc-classifier/internal/response"
)

// Taxonomy supplies the current category set.
type Taxonomy interface {
	Categories(ctx context.Context) ([]model.Category, error)
}

// Result is the outcome of classifying free text.
type Result struct {
	Classification model.ClassificationResult `json:"classification"`
	Analysis       model.AnalysisResult       `json:"analysis"`
	Model          string                     `json:"model"`
	Usage          model.Usage                `json:"usage"`
	Elapsed        time.Duration              `json:"-"`
}

// Pipeline turns RawRecords into NormalizedRecords. It does not persist.
type Pipeline struct {
	taxonomy  Taxonomy
	completer llm.Completer
	parser    *response.Parser
	settings  llm.Request
	now       func() time.Time
}

// New creates a Pipeline. settings carries MaxTokens, Temperature and
// Timeout for every model call.
func New(taxonomy Taxonomy, completer llm.Completer, parser *response.Parser, settings llm.Request) *Pipeline {
	return &Pipeline{
		taxonomy:  taxonomy,
		completer: completer,
		parser:    parser,
		settings:  settings,
		now:       time.Now,
	}
}

// Classify runs one record through the pipeline. Taxonomy, model-call and
// parse errors are returned as-is so callers can inspect their types. The
// returned Usage is set whenever the model was called, even on parse failure.
func (p *Pipeline) Classify(ctx context.Context, raw model.RawRecord) (*model.NormalizedRecord, model.Usage, error) {
	res, err := p.ClassifyText(ctx, raw.Content)
	if err != nil {
		var usage model.Usage
		if res != nil {
			usage = res.Usage
		}
		return nil, usage, err
	}

	rec := model.NewNormalizedRecord(raw, res.Classification, res.Analysis, res.Elapsed)

	zap.L().Debug("pipeline: record classified",
		zap.Int64("raw_id", raw.ID),
		zap.String("source_id", raw.SourceID),
		zap.String("category", rec.ConsultingCategory),
		zap.String("category_id", rec.CategoryID),
		zap.Float64("confidence", rec.Confidence),
		zap.Duration("elapsed", res.Elapsed),
	)
	return rec, res.Usage, nil
}

// ClassifyText classifies ad-hoc content. On a parse failure the partial
// Result carrying Usage is returned alongside the error.
func (p *Pipeline) ClassifyText(ctx context.Context, content string) (*Result, error) {
	start := p.now()

	categories, err := p.taxonomy.Categories(ctx)
	if err != nil {
		return nil, err
	}

	req := p.settings
	req.System = systemPrompt
	req.Prompt = BuildPrompt(content, categories)

	completion, err := p.completer.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	res := &Result{Model: completion.Model, Usage: completion.Usage}

	cls, analysis, err := p.parser.Parse(completion.Text, categories)
	if err != nil {
		return res, err
	}

	res.Classification = cls
	res.Analysis = analysis
	res.Elapsed = p.now().Sub(start)
	return res, nil
}
