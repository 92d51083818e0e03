package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/voc-classifier/internal/llm"
	"github.com/sells-group/voc-classifier/internal/model"
	"github.com/sells-group/voc-classifier/internal/response"
	"github.com/sells-group/voc-classifier/internal/taxonomy"
)

type mockTaxonomy struct {
	mock.Mock
}

func (m *mockTaxonomy) Categories(ctx context.Context) ([]model.Category, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Category), args.Error(1)
}

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.Completion), args.Error(1)
}

var settings = llm.Request{MaxTokens: 2000, Temperature: 0.3, Timeout: 60 * time.Second}

func exampleCategories() []model.Category {
	return []model.Category{
		{ID: "23515d46", Name: "이용내역 안내"},
		{ID: "235166ea", Name: "도난/분실 신청/해제"},
	}
}

const exampleResponse = `{"classification":{"category":"도난/분실 신청/해제","confidence":0.97},` +
	`"analysis":{"problem_situation":"카드 분실","solution_approach":"분실 신고","expected_outcome":"재발급"}}`

func newTestPipeline(tax Taxonomy, completer llm.Completer) *Pipeline {
	p := New(tax, completer, response.NewParser("23515d46"), settings)
	tick := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time {
		tick = tick.Add(1500 * time.Millisecond)
		return tick
	}
	return p
}

func TestClassify_LostCardExample(t *testing.T) {
	tax := &mockTaxonomy{}
	tax.On("Categories", mock.Anything).Return(exampleCategories(), nil)

	completer := &mockCompleter{}
	completer.On("Complete", mock.Anything, mock.MatchedBy(func(req llm.Request) bool {
		return req.MaxTokens == 2000 && req.Temperature == 0.3 && req.Timeout == time.Minute &&
			strings.Contains(req.Prompt, "카드 분실했어요") &&
			strings.Contains(req.Prompt, "- 도난/분실 신청/해제 (ID: 235166ea)") &&
			req.System != ""
	})).Return(&llm.Completion{
		Text:  "```json\n" + exampleResponse + "\n```",
		Model: "claude-haiku-4-5-20251001",
		Usage: model.Usage{InputTokens: 850, OutputTokens: 120},
	}, nil)

	raw := model.RawRecord{ID: 7, SourceID: "S1", Content: "카드 분실했어요", ClientAge: 34, ClientGender: "F"}
	rec, usage, err := newTestPipeline(tax, completer).Classify(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(t, "도난/분실 신청/해제", rec.ConsultingCategory)
	assert.Equal(t, "235166ea", rec.CategoryID)
	assert.InDelta(t, 0.97, rec.Confidence, 1e-9)
	assert.Equal(t, int64(7), rec.RawID)
	assert.Equal(t, "S1", rec.SourceID)
	assert.Equal(t, 34, rec.ClientAge)
	assert.Equal(t, "카드 분실했어요", rec.Content)
	assert.Equal(t, "재발급", rec.AnalysisResult.Analysis.ExpectedOutcome)
	assert.InDelta(t, 1.5, rec.ProcessingTimeSeconds, 1e-9)
	assert.Equal(t, int64(970), usage.Total())
	assert.Zero(t, rec.ID, "pipeline must not assign storage ids")

	tax.AssertExpectations(t)
	completer.AssertExpectations(t)
}

func TestClassify_TaxonomyErrorPropagatesUntouched(t *testing.T) {
	taxErr := &taxonomy.TransportError{Err: errors.New("connection refused")}
	tax := &mockTaxonomy{}
	tax.On("Categories", mock.Anything).Return(nil, taxErr)
	completer := &mockCompleter{}

	rec, usage, err := newTestPipeline(tax, completer).Classify(context.Background(), model.RawRecord{Content: "x"})
	assert.Nil(t, rec)
	assert.Zero(t, usage)
	assert.Same(t, taxErr, err)
	completer.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestClassify_ModelCallError(t *testing.T) {
	tax := &mockTaxonomy{}
	tax.On("Categories", mock.Anything).Return(exampleCategories(), nil)

	callErr := &llm.ModelCallError{Kind: llm.KindTimeout, Provider: "anthropic", Err: context.DeadlineExceeded}
	completer := &mockCompleter{}
	completer.On("Complete", mock.Anything, mock.Anything).Return(nil, callErr)

	_, _, err := newTestPipeline(tax, completer).Classify(context.Background(), model.RawRecord{Content: "x"})
	var mce *llm.ModelCallError
	require.True(t, errors.As(err, &mce))
	assert.Equal(t, llm.KindTimeout, mce.Kind)
}

func TestClassify_ParseErrorKeepsUsage(t *testing.T) {
	tax := &mockTaxonomy{}
	tax.On("Categories", mock.Anything).Return(exampleCategories(), nil)

	completer := &mockCompleter{}
	completer.On("Complete", mock.Anything, mock.Anything).Return(&llm.Completion{
		Text:  `{"classification":{"category":"이용내역 안내"}}`,
		Usage: model.Usage{InputTokens: 800, OutputTokens: 20},
	}, nil)

	rec, usage, err := newTestPipeline(tax, completer).Classify(context.Background(), model.RawRecord{Content: "x"})
	assert.Nil(t, rec)
	assert.Equal(t, int64(820), usage.Total())

	var pe *response.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, response.KindMissingField, pe.Kind)
	assert.Equal(t, "classification.confidence", pe.Field)
}

func TestClassifyText_UnknownCategoryFallsBack(t *testing.T) {
	tax := &mockTaxonomy{}
	tax.On("Categories", mock.Anything).Return(exampleCategories(), nil)

	completer := &mockCompleter{}
	completer.On("Complete", mock.Anything, mock.Anything).Return(&llm.Completion{
		Text: strings.Replace(exampleResponse, "도난/분실 신청/해제", "해외 결제 문의", 1),
	}, nil)

	res, err := newTestPipeline(tax, completer).ClassifyText(context.Background(), "해외에서 결제가 안돼요")
	require.NoError(t, err)
	assert.Equal(t, "해외 결제 문의", res.Classification.Category)
	assert.Equal(t, "23515d46", res.Classification.CategoryID)
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("한도 올려주세요\n감사합니다", []model.Category{
		{ID: "23516275", Name: "한도 안내"},
		{ID: "235167ff", Name: "선결제/즉시출금"},
	})

	assert.Contains(t, prompt, "한도 올려주세요\n감사합니다")
	assert.Contains(t, prompt, "- 한도 안내 (ID: 23516275)\n")
	assert.Contains(t, prompt, "- 선결제/즉시출금 (ID: 235167ff)\n")
	for _, key := range []string{"classification", "category", "category_id", "confidence",
		"alternative_categories", "analysis", "problem_situation", "solution_approach", "expected_outcome"} {
		assert.Contains(t, prompt, `"`+key+`"`)
	}
}
