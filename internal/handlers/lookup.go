package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/gdg-garage/number-info-api/internal/keystore"
	"github.com/gdg-garage/number-info-api/internal/logging"
	"github.com/gdg-garage/number-info-api/internal/lookup"
	"github.com/gdg-garage/number-info-api/internal/models"
	"github.com/gdg-garage/number-info-api/internal/phone"
	"github.com/gdg-garage/number-info-api/internal/usage"
)

// AttributionField is merged into public lookup results.
const AttributionField = "Details by"

// KeyValidator is implemented by *keystore.Store.
type KeyValidator interface {
	Validate(ctx context.Context, token string) (*models.AccessKey, error)
}

type LookupHandler struct {
	fetcher     lookup.Fetcher
	keys        KeyValidator
	meter       usage.Meter
	attribution string
	ownerTag    string
}

func NewLookupHandler(fetcher lookup.Fetcher, keys KeyValidator, meter usage.Meter, attribution, ownerTag string) *LookupHandler {
	if meter == nil {
		meter = usage.NopMeter{}
	}
	return &LookupHandler{
		fetcher:     fetcher,
		keys:        keys,
		meter:       meter,
		attribution: attribution,
		ownerTag:    ownerTag,
	}
}

// HandleLookup serves the public form endpoint used by the web UI.
func (h *LookupHandler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	number, ok := phone.Normalize(r.FormValue("number"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid number format")
		return
	}

	data, err := h.fetcher.Fetch(r.Context(), number)
	if err != nil {
		status, msg := publicMessages(h.attribution).status(err)
		logFailure(r.Context(), err, status, "Public lookup failed")
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, h.attribute(data))
}

// attribute merges the attribution field into object results and wraps any
// other value under "data".
func (h *LookupHandler) attribute(data any) map[string]any {
	if obj, ok := data.(map[string]any); ok {
		obj[AttributionField] = h.attribution
		return obj
	}
	return map[string]any{
		AttributionField: h.attribution,
		"data":           data,
	}
}

type NumberInfoInput struct {
	APIKey string `query:"api_key" doc:"Access key issued by the administrator"`
	Number string `query:"number" doc:"Phone number in any common format" example:"+91 91234 56789"`
}

type NumberInfoBody struct {
	DetailsBy string `json:"Details By"`
	Data      any    `json:"data"`
	Footer    string `json:"Footer"`
}

type NumberInfoOutput struct {
	Body NumberInfoBody
}

// HandleNumberInfo serves the keyed lookup endpoint.
func (h *LookupHandler) HandleNumberInfo(ctx context.Context, input *NumberInfoInput) (*NumberInfoOutput, error) {
	token := strings.TrimSpace(input.APIKey)
	if token == "" {
		return nil, huma.Error400BadRequest("Missing api_key")
	}
	if strings.TrimSpace(input.Number) == "" {
		return nil, huma.Error400BadRequest("Missing number parameter")
	}

	key, err := h.keys.Validate(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, keystore.ErrNotFound), errors.Is(err, keystore.ErrInactive):
			return nil, huma.Error401Unauthorized("Invalid or inactive API key")
		case errors.Is(err, keystore.ErrExpired):
			return nil, huma.Error401Unauthorized("The api key is expired, DM " + h.ownerTag + " for new api key")
		default:
			logging.FromContext(ctx).WithError(err).Error("Failed to validate access key")
			return nil, huma.Error500InternalServerError("Internal server error")
		}
	}

	number, ok := phone.Normalize(input.Number)
	if !ok {
		return nil, huma.Error400BadRequest("Invalid number format")
	}

	data, err := h.fetcher.Fetch(ctx, number)
	if err != nil {
		status, msg := keyedMessages(h.ownerTag).status(err)
		logFailure(ctx, err, status, "Keyed lookup failed")
		return nil, huma.NewError(status, msg)
	}

	if err := h.meter.Record(ctx, key.Key); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("name", key.Name).Warn("Failed to record key usage")
	}

	return &NumberInfoOutput{
		Body: NumberInfoBody{
			DetailsBy: h.ownerTag,
			Data:      data,
			Footer:    "Details By: " + h.ownerTag,
		},
	}, nil
}

func logFailure(ctx context.Context, err error, status int, msg string) {
	entry := logging.FromContext(ctx).WithError(err).WithField("status", status)
	if status == http.StatusNotFound {
		entry.Info(msg)
		return
	}
	entry.Warn(msg)
}
