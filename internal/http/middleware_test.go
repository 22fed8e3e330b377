package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/khatteland/gatehouse/internal/domain"
	"github.com/khatteland/gatehouse/internal/observability"
)

// captureLogger records error lines and accumulated fields so tests can see
// what a handler logged.
type captureLogger struct {
	fields map[string]any
	errs   *[]string
}

func newCaptureLogger() *captureLogger {
	return &captureLogger{fields: map[string]any{}, errs: &[]string{}}
}

func (l *captureLogger) Info(args ...interface{})  {}
func (l *captureLogger) Debug(args ...interface{}) {}
func (l *captureLogger) Warn(args ...interface{})  {}

func (l *captureLogger) Error(args ...interface{}) {
	*l.errs = append(*l.errs, fmt.Sprint(args...))
}

func (l *captureLogger) WithField(key string, value interface{}) observability.Logger {
	fields := make(map[string]any, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	fields[key] = value
	return &captureLogger{fields: fields, errs: l.errs}
}

func TestLoggerMiddlewareInjectsRequestLogger(t *testing.T) {
	base := newCaptureLogger()

	var got observability.Logger
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = RequestLogger(r.Context())
		got.Error("boom")
		w.WriteHeader(http.StatusOK)
	})
	handler := RequestIDMiddleware(LoggerMiddleware(base)(inner))

	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry, ok := got.(*captureLogger)
	if !ok {
		t.Fatalf("expected the injected logger, got %T", got)
	}
	if id, _ := entry.fields["request_id"].(string); id == "" {
		t.Error("request logger must carry the request id")
	}
	if len(*base.errs) != 1 || (*base.errs)[0] != "boom" {
		t.Errorf("expected the handler's error line, got %v", *base.errs)
	}
}

func TestRequestLoggerFallsBackOutsideRequests(t *testing.T) {
	if RequestLogger(context.Background()) == nil {
		t.Fatal("expected a fallback logger")
	}
}

func TestWriteDomainErrorLogsInternalFailures(t *testing.T) {
	base := newCaptureLogger()
	req := httptest.NewRequest(http.MethodPost, "/v1/checkin", nil)
	req = req.WithContext(context.WithValue(req.Context(), loggerContextKey, observability.Logger(base)))

	rec := httptest.NewRecorder()
	writeDomainError(rec, req, errors.New("pool exhausted"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if len(*base.errs) != 1 {
		t.Fatalf("internal failure must be logged, got %d lines", len(*base.errs))
	}

	// Mapped precondition failures are the caller's problem, not log noise.
	rec = httptest.NewRecorder()
	writeDomainError(rec, req, domain.ErrNotFound)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if len(*base.errs) != 1 {
		t.Errorf("mapped errors must not log, got %d lines", len(*base.errs))
	}
}
