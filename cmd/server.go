package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/voc-classifier/internal/batch"
	"github.com/sells-group/voc-classifier/internal/cost"
	"github.com/sells-group/voc-classifier/internal/llm"
	"github.com/sells-group/voc-classifier/internal/model"
	"github.com/sells-group/voc-classifier/internal/pipeline"
	"github.com/sells-group/voc-classifier/internal/response"
	"github.com/sells-group/voc-classifier/internal/store"
	"github.com/sells-group/voc-classifier/internal/taxonomy"
)

const (
	maxBatchSize = 1000
	maxPageSize  = 1000
)

type textClassifier interface {
	ClassifyText(ctx context.Context, content string) (*pipeline.Result, error)
}

type categorySource interface {
	Categories(ctx context.Context) ([]model.Category, error)
	Refresh(ctx context.Context) ([]model.Category, error)
	Stats() taxonomy.Stats
}

type pinger interface {
	Ping(ctx context.Context) error
}

type statusReporter interface {
	Status(ctx context.Context) (*model.Status, error)
}

type recordReader interface {
	GetNormalized(ctx context.Context, id int64) (*model.NormalizedRecord, error)
	ListNormalized(ctx context.Context, f store.NormalizedFilter) ([]model.NormalizedRecord, int64, error)
}

// server wires the HTTP API to the pipeline components. Any dependency may be
// nil, in which case its routes answer 503.
type server struct {
	classifier       textClassifier
	categories       categorySource
	batch            batchRunner
	status           statusReporter
	estimator        *cost.Estimator
	records          recordReader
	dashboard        pinger
	defaultBatchSize int
}

// apiResponse is the envelope of every JSON response.
type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func buildRouter(s *server, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.health)
		r.Get("/categories", s.listCategories)
		r.Get("/categories/stats", s.categoryStats)
		r.Post("/categories/refresh", s.refreshCategories)
		r.Post("/classify", s.classify)
		r.Post("/batch/process-voc", s.processBatch)
		r.Get("/batch/status", s.batchStatus)
		r.Get("/batch/cost-estimate", s.costEstimate)
		r.Get("/normalized", s.listNormalized)
		r.Post("/normalized/voc-list", s.vocList)
		r.Get("/normalized/{id}", s.getNormalized)
	})
	return r
}

// health always answers 200; downstream problems are reported in the body.
func (s *server) health(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{
		"status":    "healthy",
		"service":   "voc-classifier",
		"timestamp": time.Now().UTC(),
	}
	if s.categories != nil {
		data["taxonomy"] = s.categories.Stats()
	}
	if s.dashboard != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.dashboard.Ping(ctx); err != nil {
			zap.L().Warn("dashboard health check failed", zap.Error(err))
			data["dashboard"] = "unreachable"
		} else {
			data["dashboard"] = "ok"
		}
	}
	writeOK(w, "", data)
}

func (s *server) categoryStats(w http.ResponseWriter, _ *http.Request) {
	if s.categories == nil {
		writeUnavailable(w)
		return
	}
	writeOK(w, "", s.categories.Stats())
}

func (s *server) listCategories(w http.ResponseWriter, r *http.Request) {
	if s.categories == nil {
		writeUnavailable(w)
		return
	}
	categories, err := s.categories.Categories(r.Context())
	if err != nil {
		writeError(w, statusFor(err), "카테고리 목록 조회 중 오류가 발생했습니다.", err)
		return
	}
	writeOK(w, "", categories)
}

func (s *server) refreshCategories(w http.ResponseWriter, r *http.Request) {
	if s.categories == nil {
		writeUnavailable(w)
		return
	}
	categories, err := s.categories.Refresh(r.Context())
	if err != nil {
		writeError(w, statusFor(err), "카테고리 갱신 중 오류가 발생했습니다.", err)
		return
	}
	writeOK(w, "카테고리가 갱신되었습니다.", categories)
}

type classifyRequest struct {
	SourceID string `json:"source_id"`
	Content  string `json:"consulting_content"`
}

func (s *server) classify(w http.ResponseWriter, r *http.Request) {
	if s.classifier == nil {
		writeUnavailable(w)
		return
	}

	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "consulting_content is required", nil)
		return
	}

	res, err := s.classifier.ClassifyText(r.Context(), content)
	if err != nil {
		zap.L().Error("classify request failed", zap.String("source_id", req.SourceID), zap.Error(err))
		writeError(w, statusFor(err), "분류 처리 중 오류가 발생했습니다.", err)
		return
	}
	writeOK(w, "", map[string]any{
		"source_id":       req.SourceID,
		"classification":  res.Classification,
		"analysis":        res.Analysis,
		"model":           res.Model,
		"usage":           res.Usage,
		"processing_time": res.Elapsed.Seconds(),
	})
}

func (s *server) processBatch(w http.ResponseWriter, r *http.Request) {
	if s.batch == nil {
		writeUnavailable(w)
		return
	}

	size := s.defaultBatchSize
	if v := r.URL.Query().Get("batchSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxBatchSize {
			writeError(w, http.StatusBadRequest, "batchSize must be between 1 and 1000", nil)
			return
		}
		size = n
	}

	summary, err := s.batch.RunBatch(r.Context(), size)
	if err != nil {
		writeError(w, statusFor(err), "배치 처리 중 오류가 발생했습니다.", err)
		return
	}

	msg := "배치 처리 완료"
	if summary.Fetched == 0 {
		msg = "처리할 데이터가 없습니다."
	}
	writeOK(w, msg, summary)
}

func (s *server) batchStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeUnavailable(w)
		return
	}
	st, err := s.status.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "상태 조회 중 오류가 발생했습니다.", err)
		return
	}
	writeOK(w, "", st)
}

func (s *server) costEstimate(w http.ResponseWriter, r *http.Request) {
	if s.status == nil || s.estimator == nil {
		writeUnavailable(w)
		return
	}
	st, err := s.status.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "비용 예상 계산 중 오류가 발생했습니다.", err)
		return
	}
	writeOK(w, "", s.estimator.Estimate(st.Unprocessed))
}

// normalizedView adds the chart group to a stored record.
type normalizedView struct {
	model.NormalizedRecord
	BigCategory string `json:"big_category"`
}

func viewsOf(records []model.NormalizedRecord) []normalizedView {
	out := make([]normalizedView, len(records))
	for i, rec := range records {
		out[i] = normalizedView{NormalizedRecord: rec, BigCategory: model.BigCategory(rec.ConsultingCategory)}
	}
	return out
}

func (s *server) listNormalized(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeUnavailable(w)
		return
	}

	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer", err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer", err)
		return
	}
	from, err := queryDate(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD", err)
		return
	}
	to, err := queryDate(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD", err)
		return
	}

	records, total, err := s.records.ListNormalized(r.Context(), store.NormalizedFilter{
		From: from, To: to, Limit: limit, Offset: offset,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "VoC 목록 조회 중 오류가 발생했습니다.", err)
		return
	}
	writeOK(w, "", map[string]any{
		"items":  viewsOf(records),
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// vocListRequest selects records by consulting date for dashboard charts.
// Page is 1-based.
type vocListRequest struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Page      int    `json:"page"`
	Size      int    `json:"size"`
}

func (s *server) vocList(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeUnavailable(w)
		return
	}

	var req vocListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.StartDate == "" || req.EndDate == "" {
		writeError(w, http.StatusBadRequest, "startDate and endDate are required", nil)
		return
	}
	from, err := time.Parse(time.DateOnly, req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "startDate must be YYYY-MM-DD", err)
		return
	}
	to, err := time.Parse(time.DateOnly, req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "endDate must be YYYY-MM-DD", err)
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "endDate must not be before startDate", nil)
		return
	}
	if req.Page == 0 {
		req.Page = 1
	}
	if req.Size == 0 {
		req.Size = maxPageSize
	}
	if req.Page < 1 || req.Size < 1 || req.Size > maxPageSize {
		writeError(w, http.StatusBadRequest, "page must be >= 1 and size between 1 and 1000", nil)
		return
	}

	records, total, err := s.records.ListNormalized(r.Context(), store.NormalizedFilter{
		From:   from,
		To:     to,
		Limit:  req.Size,
		Offset: (req.Page - 1) * req.Size,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "VoC 목록 조회 중 오류가 발생했습니다.", err)
		return
	}
	writeOK(w, "", map[string]any{
		"data":       viewsOf(records),
		"totalCount": total,
		"page":       req.Page,
		"size":       req.Size,
	})
}

func (s *server) getNormalized(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeUnavailable(w)
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer", nil)
		return
	}

	rec, err := s.records.GetNormalized(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), "VoC 상세보기 중 오류가 발생했습니다.", err)
		return
	}
	writeOK(w, "", normalizedView{NormalizedRecord: *rec, BigCategory: model.BigCategory(rec.ConsultingCategory)})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		mce *llm.ModelCallError
		pe  *response.ParseError
		te  *taxonomy.TransportError
		ee  *taxonomy.EmptyTaxonomyError
		me  *taxonomy.MalformedResponseError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, batch.ErrBatchInProgress):
		return http.StatusConflict
	case errors.As(err, &mce) && mce.Kind == llm.KindTimeout:
		return http.StatusGatewayTimeout
	case errors.As(err, &mce), errors.As(err, &pe), errors.As(err, &te), errors.As(err, &ee), errors.As(err, &me):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func queryDate(r *http.Request, key string) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, v)
}

func writeOK(w http.ResponseWriter, msg string, data any) {
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: msg, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := apiResponse{Success: false, Message: msg}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeUnavailable(w http.ResponseWriter) {
	writeError(w, http.StatusServiceUnavailable, "service not configured", nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response failed", zap.Error(err))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
