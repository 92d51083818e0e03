package cost

import (
	"github.com/sells-group/voc-classifier/internal/config"
	"github.com/sells-group/voc-classifier/internal/model"
)

const (
	DefaultTokensPerRequest = 2000
	DefaultUSDPer1KTokens   = 0.00015
	DefaultKRWPerUSD        = 1300.0
)

const estimateNote = "예상 비용은 평균 토큰 수 기준이며 실제 비용은 상담 내용 길이에 따라 달라질 수 있습니다."

// Estimator projects the spend needed to classify the remaining records.
// It is advisory and never gates a batch.
type Estimator struct {
	tokensPerRequest int
	usdPer1K         float64
	krwPerUSD        float64
}

// NewEstimator builds an Estimator, falling back to the defaults for any
// non-positive setting.
func NewEstimator(cfg config.CostConfig) *Estimator {
	e := &Estimator{
		tokensPerRequest: DefaultTokensPerRequest,
		usdPer1K:         DefaultUSDPer1KTokens,
		krwPerUSD:        DefaultKRWPerUSD,
	}
	if cfg.TokensPerRequest > 0 {
		e.tokensPerRequest = cfg.TokensPerRequest
	}
	if cfg.USDPer1KTokens > 0 {
		e.usdPer1K = cfg.USDPer1KTokens
	}
	if cfg.KRWPerUSD > 0 {
		e.krwPerUSD = cfg.KRWPerUSD
	}
	return e
}

// Estimate prices unprocessed requests in USD and KRW.
func (e *Estimator) Estimate(unprocessed int64) model.CostEstimate {
	if unprocessed < 0 {
		unprocessed = 0
	}
	perRequest := float64(e.tokensPerRequest) / 1000 * e.usdPer1K
	total := float64(unprocessed) * perRequest

	return model.CostEstimate{
		UnprocessedCount:  unprocessed,
		TokensPerRequest:  e.tokensPerRequest,
		CostPerRequestUSD: perRequest,
		TotalCostUSD:      total,
		TotalCostKRW:      total * e.krwPerUSD,
		Note:              estimateNote,
	}
}
