package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yanqian/faq-pipeline/internal/domain/batch"
	"github.com/yanqian/faq-pipeline/internal/domain/faq"
	"github.com/yanqian/faq-pipeline/internal/domain/inbox"
	"github.com/yanqian/faq-pipeline/internal/domain/pipeline"
	"github.com/yanqian/faq-pipeline/internal/infra/config"
	apperrors "github.com/yanqian/faq-pipeline/pkg/errors"
)

func TestRouter_Health(t *testing.T) {
	recorder := performRequest(http.MethodGet, "/healthz", "", newRouterUnderTest(t, &stubPipeline{}, &stubFAQ{}, &stubInbox{}))
	require.Equal(t, http.StatusOK, recorder.Code)
	require.JSONEq(t, `{"status":"ok"}`, recorder.Body.String())
}

func TestRouter_TriggerRunAccepted(t *testing.T) {
	svc := &stubPipeline{
		triggerFn: func(ctx context.Context, req pipeline.RunRequest) (pipeline.Status, error) {
			require.True(t, req.SkipGeneration)
			require.Empty(t, req.RunID)
			return pipeline.Status{RunID: "run-1", Stage: pipeline.StageQueued}, nil
		},
	}

	recorder := performRequest(http.MethodPost, "/api/v1/pipeline/runs", `{"skipGeneration":true,"runId":"spoofed"}`, newRouterUnderTest(t, svc, &stubFAQ{}, &stubInbox{}))
	require.Equal(t, http.StatusAccepted, recorder.Code)

	var got pipeline.Status
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &got))
	require.Equal(t, "run-1", got.RunID)
	require.Equal(t, pipeline.StageQueued, got.Stage)
}

func TestRouter_TriggerRunWithoutBody(t *testing.T) {
	called := false
	svc := &stubPipeline{
		triggerFn: func(ctx context.Context, req pipeline.RunRequest) (pipeline.Status, error) {
			called = true
			require.False(t, req.SkipExtraction)
			return pipeline.Status{RunID: "run-2"}, nil
		},
	}

	recorder := performRequest(http.MethodPost, "/api/v1/pipeline/runs", "", newRouterUnderTest(t, svc, &stubFAQ{}, &stubInbox{}))
	require.Equal(t, http.StatusAccepted, recorder.Code)
	require.True(t, called)
}

func TestRouter_TriggerRunConflict(t *testing.T) {
	svc := &stubPipeline{
		triggerFn: func(ctx context.Context, req pipeline.RunRequest) (pipeline.Status, error) {
			return pipeline.Status{}, apperrors.Wrap(apperrors.CodeRunInProgress, "busy", pipeline.ErrRunInProgress)
		},
	}

	recorder := performRequest(http.MethodPost, "/api/v1/pipeline/runs", `{}`, newRouterUnderTest(t, svc, &stubFAQ{}, &stubInbox{}))
	require.Equal(t, http.StatusConflict, recorder.Code)

	errBody := decodeErrorBody(t, recorder.Body.Bytes())
	require.Equal(t, apperrors.CodeRunInProgress, errBody["error"]["code"])
}

func TestRouter_TriggerRunInvalidJSON(t *testing.T) {
	recorder := performRequest(http.MethodPost, "/api/v1/pipeline/runs", `{"skipGeneration":"yes"}`, newRouterUnderTest(t, &stubPipeline{}, &stubFAQ{}, &stubInbox{}))
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	errBody := decodeErrorBody(t, recorder.Body.Bytes())
	require.Equal(t, "invalid_request", errBody["error"]["code"])
}

func TestRouter_PipelineStatus(t *testing.T) {
	svc := &stubPipeline{
		statusFn: func(ctx context.Context) (pipeline.Status, error) {
			return pipeline.Status{
				RunID:   "run-3",
				Running: true,
				Stage:   pipeline.StageExtract,
				Progress: &batch.Progress{
					Current: 4,
					Total:   10,
				},
			}, nil
		},
	}

	recorder := performRequest(http.MethodGet, "/api/v1/pipeline/status", "", newRouterUnderTest(t, svc, &stubFAQ{}, &stubInbox{}))
	require.Equal(t, http.StatusOK, recorder.Code)

	var got pipeline.Status
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &got))
	require.True(t, got.Running)
	require.Equal(t, 4, got.Progress.Current)
}

func TestRouter_ListFAQs(t *testing.T) {
	faqs := &stubFAQ{
		listFn: func(ctx context.Context, filter faq.GroupFilter) ([]faq.Group, error) {
			require.True(t, filter.PublishedOnly)
			require.Equal(t, 5, filter.Limit)
			return []faq.Group{{ID: 7, Title: "How do I reset my password?", QuestionCount: 3, IsPublished: true}}, nil
		},
	}

	recorder := performRequest(http.MethodGet, "/api/v1/faqs?published=true&limit=5", "", newRouterUnderTest(t, &stubPipeline{}, faqs, &stubInbox{}))
	require.Equal(t, http.StatusOK, recorder.Code)

	var body struct {
		FAQs []faq.Group `json:"faqs"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	require.Len(t, body.FAQs, 1)
	require.Equal(t, int64(7), body.FAQs[0].ID)
}

func TestRouter_ListFAQsRejectsBadQuery(t *testing.T) {
	router := newRouterUnderTest(t, &stubPipeline{}, &stubFAQ{}, &stubInbox{})
	for _, path := range []string{"/api/v1/faqs?published=maybe", "/api/v1/faqs?limit=0", "/api/v1/faqs?limit=1000"} {
		recorder := performRequest(http.MethodGet, path, "", router)
		require.Equal(t, http.StatusBadRequest, recorder.Code, path)
	}
}

func TestRouter_ListFAQsEmptyIsArray(t *testing.T) {
	recorder := performRequest(http.MethodGet, "/api/v1/faqs", "", newRouterUnderTest(t, &stubPipeline{}, &stubFAQ{}, &stubInbox{}))
	require.Equal(t, http.StatusOK, recorder.Code)
	require.JSONEq(t, `{"faqs":[]}`, recorder.Body.String())
}

func TestRouter_SubmitEmail(t *testing.T) {
	inboxSvc := &stubInbox{
		submitFn: func(ctx context.Context, email inbox.NewEmail) (batch.Email, error) {
			require.Equal(t, "Password help", email.Subject)
			return batch.Email{ID: 11, BodyKey: "emails/x.txt"}, nil
		},
	}

	recorder := performRequest(http.MethodPost, "/api/v1/emails", `{"subject":"Password help","body":"How do I reset it?"}`, newRouterUnderTest(t, &stubPipeline{}, &stubFAQ{}, inboxSvc))
	require.Equal(t, http.StatusCreated, recorder.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	require.EqualValues(t, 11, body["id"])
	require.Equal(t, true, body["offloaded"])
}

func TestRouter_SubmitEmailInvalidInput(t *testing.T) {
	inboxSvc := &stubInbox{
		submitFn: func(ctx context.Context, email inbox.NewEmail) (batch.Email, error) {
			return batch.Email{}, apperrors.Wrap(apperrors.CodeInvalidInput, "email is empty", nil)
		},
	}

	recorder := performRequest(http.MethodPost, "/api/v1/emails", `{}`, newRouterUnderTest(t, &stubPipeline{}, &stubFAQ{}, inboxSvc))
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	errBody := decodeErrorBody(t, recorder.Body.Bytes())
	require.Equal(t, "invalid_request", errBody["error"]["code"])
	require.Contains(t, errBody["error"]["message"], "email is empty")
}

func TestRouter_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 1}
	handler := NewHandler(&stubPipeline{}, &stubFAQ{}, &stubInbox{}, newTestLogger())
	server := NewRouter(cfg, handler, newTestLogger())

	first := performRequest(http.MethodGet, "/api/v1/faqs", "", server)
	require.Equal(t, http.StatusOK, first.Code)
	second := performRequest(http.MethodGet, "/api/v1/faqs", "", server)
	require.Equal(t, http.StatusTooManyRequests, second.Code)

	health := performRequest(http.MethodGet, "/healthz", "", server)
	require.Equal(t, http.StatusOK, health.Code, "health checks are not rate limited")
}

func TestIPRateLimiterRefills(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newIPRateLimiter(config.RateLimitConfig{RequestsPerMinute: 60, Burst: 1})
	limiter.now = func() time.Time { return now }

	require.True(t, limiter.allow("10.0.0.1"))
	require.False(t, limiter.allow("10.0.0.1"))
	require.True(t, limiter.allow("10.0.0.2"))

	now = now.Add(time.Second)
	require.True(t, limiter.allow("10.0.0.1"))

	now = now.Add(10 * time.Minute)
	require.True(t, limiter.allow("10.0.0.3"))
	require.Len(t, limiter.visitors, 1, "idle visitors are evicted")
}

func TestRouter_RequestIDPropagates(t *testing.T) {
	server := newRouterUnderTest(t, &stubPipeline{}, &stubFAQ{}, &stubInbox{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/faqs?limit=0", http.NoBody)
	req.Header.Set(requestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "req-123", rec.Header().Get(requestIDHeader))
	errBody := decodeErrorBody(t, rec.Body.Bytes())
	require.Equal(t, "req-123", errBody["error"]["requestId"])

	generated := performRequest(http.MethodGet, "/healthz", "", server)
	require.NotEmpty(t, generated.Header().Get(requestIDHeader))
}

func TestRouter_StoreErrorsAreUnavailable(t *testing.T) {
	svc := &stubPipeline{
		statusFn: func(ctx context.Context) (pipeline.Status, error) {
			return pipeline.Status{}, apperrors.Wrap(apperrors.CodeStore, "load failed", io.ErrUnexpectedEOF)
		},
	}

	recorder := performRequest(http.MethodGet, "/api/v1/pipeline/status", "", newRouterUnderTest(t, svc, &stubFAQ{}, &stubInbox{}))
	require.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	errBody := decodeErrorBody(t, recorder.Body.Bytes())
	require.Equal(t, apperrors.CodeStore, errBody["error"]["code"])
	require.NotContains(t, errBody["error"]["message"], "unexpected EOF")
}

func TestRouter_CORSPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.AllowedOrigins = []string{"https://ops.example.com"}
	server := NewRouter(cfg, NewHandler(&stubPipeline{}, &stubFAQ{}, &stubInbox{}, newTestLogger()), newTestLogger())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/pipeline/runs", http.NoBody)
	req.Header.Set("Origin", "https://ops.example.com")
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/pipeline/runs", http.NoBody)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func performRequest(method, path, body string, server *http.Server) *httptest.ResponseRecorder {
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	return rec
}

func testConfig() *config.Config {
	return &config.Config{
		HTTP: config.HTTPConfig{
			Address:      ":0",
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		},
	}
}

func newRouterUnderTest(t *testing.T, pipelineSvc pipeline.Service, faqSvc faq.Service, inboxSvc inbox.Service) *http.Server {
	t.Helper()
	handler := NewHandler(pipelineSvc, faqSvc, inboxSvc, newTestLogger())
	return NewRouter(testConfig(), handler, newTestLogger())
}

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(io.Discard, nil)
	return slog.New(handler)
}

type stubPipeline struct {
	triggerFn func(ctx context.Context, req pipeline.RunRequest) (pipeline.Status, error)
	statusFn  func(ctx context.Context) (pipeline.Status, error)
}

func (s *stubPipeline) Run(ctx context.Context, req pipeline.RunRequest) (pipeline.Status, error) {
	return pipeline.Status{}, nil
}

func (s *stubPipeline) Trigger(ctx context.Context, req pipeline.RunRequest) (pipeline.Status, error) {
	if s.triggerFn != nil {
		return s.triggerFn(ctx, req)
	}
	return pipeline.Status{}, nil
}

func (s *stubPipeline) Status(ctx context.Context) (pipeline.Status, error) {
	if s.statusFn != nil {
		return s.statusFn(ctx)
	}
	return pipeline.Status{}, nil
}

func (s *stubPipeline) HandleJob(ctx context.Context, name string, payload map[string]any) {}

type stubFAQ struct {
	listFn func(ctx context.Context, filter faq.GroupFilter) ([]faq.Group, error)
}

func (s *stubFAQ) Generate(ctx context.Context) (faq.GenerationReport, error) {
	return faq.GenerationReport{}, nil
}

func (s *stubFAQ) Backfill(ctx context.Context) (faq.BackfillReport, error) {
	return faq.BackfillReport{}, nil
}

func (s *stubFAQ) ListGroups(ctx context.Context, filter faq.GroupFilter) ([]faq.Group, error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return nil, nil
}

type stubInbox struct {
	submitFn func(ctx context.Context, email inbox.NewEmail) (batch.Email, error)
}

func (s *stubInbox) Submit(ctx context.Context, email inbox.NewEmail) (batch.Email, error) {
	if s.submitFn != nil {
		return s.submitFn(ctx, email)
	}
	return batch.Email{}, nil
}

func decodeErrorBody(t *testing.T, raw []byte) map[string]map[string]string {
	t.Helper()
	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}
