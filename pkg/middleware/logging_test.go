package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestEngine(logger *zap.Logger, status int, called *bool) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(logger))
	r.GET("/test", func(c *gin.Context) {
		if called != nil {
			*called = true
		}
		c.Status(status)
	})
	return r
}

func TestRequestLogger_LogsRequests(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)

	rec := httptest.NewRecorder()
	newTestEngine(zap.New(core), http.StatusOK, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	if logs.Len() != 1 {
		t.Fatalf("expected 1 log entry, got %d", logs.Len())
	}
	entry := logs.All()[0]
	if entry.Message != "HTTP request" {
		t.Errorf("expected message 'HTTP request', got '%s'", entry.Message)
	}
	if entry.Level != zapcore.DebugLevel {
		t.Errorf("expected debug level, got %s", entry.Level)
	}
}

func TestRequestLogger_NilLogger_PassesThrough(t *testing.T) {
	called := false
	rec := httptest.NewRecorder()
	newTestEngine(nil, http.StatusOK, &called).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	if !called {
		t.Error("expected handler to be called")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestRequestLogger_LevelFollowsStatus(t *testing.T) {
	tests := []struct {
		status int
		level  zapcore.Level
	}{
		{http.StatusNoContent, zapcore.DebugLevel},
		{http.StatusNotFound, zapcore.WarnLevel},
		{http.StatusConflict, zapcore.WarnLevel},
		{http.StatusBadGateway, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			core, logs := observer.New(zap.DebugLevel)
			rec := httptest.NewRecorder()
			newTestEngine(zap.New(core), tt.status, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

			entry := logs.All()[0]
			if entry.Level != tt.level {
				t.Errorf("expected level %s, got %s", tt.level, entry.Level)
			}
			if got := entry.ContextMap()["status"]; got != int64(tt.status) {
				t.Errorf("expected status %d, got %v", tt.status, got)
			}
		})
	}
}
