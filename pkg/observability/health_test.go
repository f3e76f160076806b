package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

type fakeBlobChecker struct {
	err error
}

func (f *fakeBlobChecker) HealthCheck(ctx context.Context) error {
	return f.err
}

func TestHealthChecker_Liveness(t *testing.T) {
	checker := NewHealthChecker(nil, nil, nil)

	w := httptest.NewRecorder()
	checker.Liveness(w, httptest.NewRequest("GET", "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestHealthChecker_Check(t *testing.T) {
	t.Run("all dependencies healthy", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("failed to create mock db: %v", err)
		}
		defer db.Close()
		mock.ExpectPing()

		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer client.Close()

		checker := NewHealthChecker(db, client, &fakeBlobChecker{})
		status := checker.Check(context.Background())

		if status.Status != StatusHealthy {
			t.Errorf("status = %v, want healthy", status.Status)
		}
		for name, dep := range status.Dependencies {
			if dep.Status != StatusHealthy {
				t.Errorf("dependency %s = %v, want healthy", name, dep.Status)
			}
		}
	})

	t.Run("blob failure is unhealthy", func(t *testing.T) {
		checker := NewHealthChecker(nil, nil, &fakeBlobChecker{err: errors.New("bucket gone")})
		status := checker.Check(context.Background())

		if status.Status != StatusUnhealthy {
			t.Errorf("status = %v, want unhealthy", status.Status)
		}
		if status.Dependencies["blobstore"].Message != "bucket gone" {
			t.Errorf("unexpected message: %v", status.Dependencies["blobstore"].Message)
		}
	})

	t.Run("redis failure only degrades", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer client.Close()
		mr.Close()

		checker := NewHealthChecker(nil, client, &fakeBlobChecker{})
		status := checker.Check(context.Background())

		if status.Status != StatusDegraded {
			t.Errorf("status = %v, want degraded", status.Status)
		}
	})

	t.Run("no dependencies configured", func(t *testing.T) {
		checker := NewHealthChecker(nil, nil, nil)
		status := checker.Check(context.Background())

		if status.Status != StatusHealthy {
			t.Errorf("status = %v, want healthy", status.Status)
		}
	})
}

func TestHealthChecker_Readiness(t *testing.T) {
	t.Run("healthy returns 200", func(t *testing.T) {
		checker := NewHealthChecker(nil, nil, &fakeBlobChecker{})

		w := httptest.NewRecorder()
		checker.Readiness(w, httptest.NewRequest("GET", "/readyz", nil))

		if w.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", w.Code)
		}

		var status HealthStatus
		if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
			t.Fatalf("failed to unmarshal body: %v", err)
		}
		if status.Status != StatusHealthy {
			t.Errorf("status = %v, want healthy", status.Status)
		}
	})

	t.Run("unhealthy returns 503", func(t *testing.T) {
		checker := NewHealthChecker(nil, nil, &fakeBlobChecker{err: errors.New("down")})

		w := httptest.NewRecorder()
		checker.Readiness(w, httptest.NewRequest("GET", "/readyz", nil))

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("expected 503, got %d", w.Code)
		}
	})
}
