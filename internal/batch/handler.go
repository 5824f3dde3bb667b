package batch

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/parcelhub/backend-tracking/internal/common"
)

// Handler exposes the batch run trigger over HTTP.
type Handler struct {
	Tracker *Tracker
	Logger  zerolog.Logger
}

// Run handles POST /admin/batch-tracking-run. A run already in progress maps
// to 409 so callers can distinguish it from failures.
func (h Handler) Run(w http.ResponseWriter, r *http.Request) {
	report, err := h.Tracker.Run(r.Context())
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			common.JSONError(w, http.StatusConflict, common.CodeConflict, "a tracking run is already in progress", nil)
			return
		}
		h.Logger.Error().Err(err).Msg("batch tracking run failed")
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "tracking run failed", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": report})
}
