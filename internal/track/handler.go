package track

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/parcelhub/backend-tracking/internal/carrier"
	"github.com/parcelhub/backend-tracking/internal/common"
)

// Request is a single tracking lookup. Carrier is optional; when absent the
// number's format decides.
type Request struct {
	TrackingNumber string `json:"trackingNumber" validate:"required,min=6,max=40"`
	Carrier        string `json:"carrier" validate:"omitempty,max=20"`
}

// Handler serves ad-hoc tracking lookups.
type Handler struct {
	Registry *carrier.Registry
	Validate *validator.Validate
	Cache    Cache
	Logger   zerolog.Logger
}

// Lookup handles GET and POST /track.
func (h Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseRequest(r)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid tracking request", validationDetails(err))
		return
	}

	tag, ok := h.resolveTag(req)
	if !ok {
		common.JSONError(w, http.StatusBadRequest, common.CodeUnsupportedCarrier,
			"carrier not recognized for tracking number", map[string]any{
				"supported": h.Registry.Supported(),
			})
		return
	}
	client, err := h.Registry.Resolve(tag)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeUnsupportedCarrier,
			"carrier not supported", map[string]any{
				"carrier":   tag,
				"supported": h.Registry.Supported(),
			})
		return
	}

	number := strings.TrimSpace(req.TrackingNumber)
	if cached, hit := h.Cache.Get(r.Context(), tag, number); hit {
		common.JSON(w, http.StatusOK, map[string]any{"data": cached})
		return
	}

	result, err := client.Track(r.Context(), number)
	if err != nil {
		if errors.Is(err, carrier.ErrUnsupported) {
			common.JSONError(w, http.StatusBadRequest, common.CodeUnsupportedCarrier,
				"carrier has no tracking API", map[string]any{"carrier": tag})
			return
		}
		h.Logger.Error().Err(err).Str("carrier", string(tag)).Msg("tracking lookup failed")
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "tracking lookup failed", nil)
		return
	}

	// Degraded results (carrier-side errors, unknown numbers) are data, not
	// HTTP failures, and are not cached.
	if !result.Degraded() {
		h.Cache.Put(r.Context(), result)
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": result})
}

func (h Handler) parseRequest(r *http.Request) (Request, error) {
	if r.Method == http.MethodPost {
		var req Request
		decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<16))
		if err := decoder.Decode(&req); err != nil {
			return Request{}, errors.New("malformed request body")
		}
		return req, nil
	}
	query := r.URL.Query()
	return Request{
		TrackingNumber: strings.TrimSpace(query.Get("tracking_number")),
		Carrier:        strings.TrimSpace(query.Get("carrier")),
	}, nil
}

func (h Handler) resolveTag(req Request) (carrier.Tag, bool) {
	if req.Carrier != "" {
		return carrier.ParseTag(req.Carrier)
	}
	tag := carrier.Detect(req.TrackingNumber)
	return tag, tag != carrier.TagUnknown
}

func validationDetails(err error) any {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return nil
	}
	details := make(map[string]string, len(fieldErrors))
	for _, fieldError := range fieldErrors {
		details[fieldError.Field()] = fieldError.Tag()
	}
	return details
}
