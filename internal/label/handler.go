package label

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/parcelhub/backend-tracking/internal/carrier"
	"github.com/parcelhub/backend-tracking/internal/common"
)

// WaybillCreator registers a shipment with the carrier.
type WaybillCreator interface {
	CreateWaybill(ctx context.Context, barkod string) (carrier.WaybillResponse, error)
}

// Handler exposes waybill creation and label retrieval over HTTP.
type Handler struct {
	Waybills WaybillCreator
	Fetcher  *Fetcher
	Logger   zerolog.Logger
}

type waybillRequest struct {
	Barkod string `json:"barkod"`
}

// CreateWaybill handles POST /admin/waybills.
func (h Handler) CreateWaybill(w http.ResponseWriter, r *http.Request) {
	var req waybillRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<14))
	if err := decoder.Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "malformed request body", nil)
		return
	}
	barkod := strings.TrimSpace(req.Barkod)
	if barkod == "" {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "barkod is required", nil)
		return
	}

	waybill, err := h.Waybills.CreateWaybill(r.Context(), barkod)
	if err != nil {
		h.Logger.Error().Err(err).Str("barkod", barkod).Msg("waybill creation failed")
		common.JSONError(w, http.StatusBadGateway, common.CodeTransport, "waybill creation failed", nil)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": waybill})
}

// Get handles GET /admin/labels/{barkod}. An optional source query parameter
// carries the label URL reported at waybill creation and is tried before the
// configured templates.
func (h Handler) Get(w http.ResponseWriter, r *http.Request) {
	barkod := strings.TrimSpace(chi.URLParam(r, "barkod"))
	if barkod == "" {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "barkod is required", nil)
		return
	}

	artifact, err := h.Fetcher.Fetch(r.Context(), barkod, r.URL.Query().Get("source"))
	if err != nil {
		if errors.Is(err, ErrNoLabel) {
			common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "no label available for barkod", nil)
			return
		}
		h.Logger.Error().Err(err).Str("barkod", barkod).Msg("label retrieval failed")
		common.JSONError(w, http.StatusBadGateway, common.CodeTransport, "label retrieval failed", nil)
		return
	}

	if len(artifact.Content) == 0 {
		// Downloads failed but the carrier reported a URL; hand it back so
		// the caller can keep it as a reference.
		common.JSON(w, http.StatusOK, map[string]any{"data": map[string]string{"labelUrl": artifact.SourceURL}})
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", barkod+".pdf"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(artifact.Content)
}
