package httphandler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/services"
	"github.com/bodasure/bodasure-backend/internal/services/mocks"
)

func Test_BatchesHandler_TriggerBatch(t *testing.T) {
	newRouter := func(svc services.BatchServiceInterface) *chi.Mux {
		r := chi.NewRouter()
		handler := BatchesHandler{BatchService: svc, Location: time.UTC}
		r.Post("/batches/trigger", handler.TriggerBatch)
		return r
	}

	t.Run("returns 201 with the processed batch", func(t *testing.T) {
		svcMock := mocks.NewMockBatchService(t)
		svcMock.
			On("ProcessBatch", mock.Anything, data.ManualSchedule, mock.AnythingOfType("time.Time")).
			Return(&data.PolicyBatch{ID: "batch-1", Schedule: data.ManualSchedule}, nil).
			Once()
		r := newRouter(svcMock)

		req := httptest.NewRequest(http.MethodPost, "/batches/trigger", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Contains(t, w.Body.String(), "batch-1")
	})

	t.Run("returns 409 when a batch already ran for the slot", func(t *testing.T) {
		svcMock := mocks.NewMockBatchService(t)
		svcMock.
			On("ProcessBatch", mock.Anything, data.ManualSchedule, mock.AnythingOfType("time.Time")).
			Return(nil, services.ErrBatchAlreadyRun).
			Once()
		r := newRouter(svcMock)

		req := httptest.NewRequest(http.MethodPost, "/batches/trigger", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.JSONEq(t, `{"error": "A batch already ran for this slot"}`, w.Body.String())
	})

	t.Run("returns 500 on unexpected errors", func(t *testing.T) {
		svcMock := mocks.NewMockBatchService(t)
		svcMock.
			On("ProcessBatch", mock.Anything, data.ManualSchedule, mock.AnythingOfType("time.Time")).
			Return(nil, errors.New("db is down")).
			Once()
		r := newRouter(svcMock)

		req := httptest.NewRequest(http.MethodPost, "/batches/trigger", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func Test_BatchesHandler_RetryBatch(t *testing.T) {
	newRouter := func(svc services.BatchServiceInterface) *chi.Mux {
		r := chi.NewRouter()
		handler := BatchesHandler{BatchService: svc}
		r.Post("/batches/{id}/retry", handler.RetryBatch)
		return r
	}

	t.Run("returns the retried batch", func(t *testing.T) {
		svcMock := mocks.NewMockBatchService(t)
		svcMock.
			On("RetryFailed", mock.Anything, "batch-1").
			Return(&data.PolicyBatch{ID: "batch-1"}, nil).
			Once()
		r := newRouter(svcMock)

		req := httptest.NewRequest(http.MethodPost, "/batches/batch-1/retry", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "batch-1")
	})

	t.Run("returns 404 for an unknown batch", func(t *testing.T) {
		svcMock := mocks.NewMockBatchService(t)
		svcMock.
			On("RetryFailed", mock.Anything, "batch-404").
			Return(nil, data.ErrRecordNotFound).
			Once()
		r := newRouter(svcMock)

		req := httptest.NewRequest(http.MethodPost, "/batches/batch-404/retry", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("returns 400 for a batch that is not in a failed state", func(t *testing.T) {
		svcMock := mocks.NewMockBatchService(t)
		svcMock.
			On("RetryFailed", mock.Anything, "batch-1").
			Return(nil, services.ErrBatchNotRetryable).
			Once()
		r := newRouter(svcMock)

		req := httptest.NewRequest(http.MethodPost, "/batches/batch-1/retry", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error": "Only failed batches can be retried"}`, w.Body.String())
	})
}
