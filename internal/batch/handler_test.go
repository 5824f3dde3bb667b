package batch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parcelhub/backend-tracking/internal/batch"
	"github.com/parcelhub/backend-tracking/internal/store"
)

func TestHandlerReturnsReport(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	handler := batch.Handler{Tracker: newTracker(t, mem)}

	req := httptest.NewRequest(http.MethodPost, "/admin/batch-tracking-run", nil)
	rec := httptest.NewRecorder()
	handler.Run(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"total":0`)
}

func TestHandlerMapsConcurrentRunToConflict(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	tracker := newTracker(t, mem)
	handler := batch.Handler{Tracker: tracker}

	ok, release, err := tracker.Locker.TryAcquire(context.Background(), "tracking:batch:run", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	req := httptest.NewRequest(http.MethodPost, "/admin/batch-tracking-run", nil)
	rec := httptest.NewRecorder()
	handler.Run(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "CONFLICT")
}
