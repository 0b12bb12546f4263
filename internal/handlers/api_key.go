package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/gdg-garage/number-info-api/internal/auth"
	"github.com/gdg-garage/number-info-api/internal/keystore"
	"github.com/gdg-garage/number-info-api/internal/logging"
	"github.com/gdg-garage/number-info-api/internal/models"
	"github.com/gdg-garage/number-info-api/internal/notifier"
)

// KeyManager is implemented by *keystore.Store.
type KeyManager interface {
	Issue(ctx context.Context, name string, days int) (*models.AccessKey, error)
	List(ctx context.Context) ([]models.AccessKeyListing, error)
	Revoke(ctx context.Context, name string) (int64, error)
	Rotate(ctx context.Context, name string, days int) (*models.AccessKey, int64, error)
	Delete(ctx context.Context, target string) (keystore.DeleteResult, error)
}

type APIKeyHandler struct {
	keys     KeyManager
	admin    *auth.AdminAuth
	notifier notifier.Notifier
}

func NewAPIKeyHandler(keys KeyManager, admin *auth.AdminAuth, n notifier.Notifier) *APIKeyHandler {
	if n == nil {
		n = notifier.Nop{}
	}
	return &APIKeyHandler{keys: keys, admin: admin, notifier: n}
}

type APIKeyResponse struct {
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Active    bool      `json:"active"`
}

func toResponse(k *models.AccessKey) APIKeyResponse {
	return APIKeyResponse{
		Key:       k.Key,
		Name:      k.Name,
		CreatedAt: k.CreatedAt,
		ExpiresAt: k.ExpiresAt,
		Active:    k.Active,
	}
}

type CreateAPIKeyInput struct {
	auth.AdminInput
	Body struct {
		Name string `json:"name" minLength:"1" doc:"Label of the key holder"`
		Days int    `json:"days" minimum:"0" maximum:"36500" doc:"Validity in days"`
	}
}

type CreateAPIKeyOutput struct {
	Body APIKeyResponse
}

func (h *APIKeyHandler) HandleCreate(ctx context.Context, input *CreateAPIKeyInput) (*CreateAPIKeyOutput, error) {
	if _, err := h.admin.Authorize(ctx, input.Authorization); err != nil {
		return nil, err
	}

	key, err := h.keys.Issue(ctx, input.Body.Name, input.Body.Days)
	if err != nil {
		return nil, storeError(ctx, err, "Failed to create API key")
	}
	h.notify(ctx, h.notifier.NotifyKeyIssued(*key, 0))

	return &CreateAPIKeyOutput{Body: toResponse(key)}, nil
}

type ListAPIKeysInput struct {
	auth.AdminInput
}

type ListAPIKeysOutput struct {
	Body []models.AccessKeyListing
}

func (h *APIKeyHandler) HandleList(ctx context.Context, input *ListAPIKeysInput) (*ListAPIKeysOutput, error) {
	if _, err := h.admin.Authorize(ctx, input.Authorization); err != nil {
		return nil, err
	}

	keys, err := h.keys.List(ctx)
	if err != nil {
		return nil, storeError(ctx, err, "Failed to list API keys")
	}
	return &ListAPIKeysOutput{Body: keys}, nil
}

type RevokeAPIKeysInput struct {
	auth.AdminInput
	Name string `path:"name"`
}

type CountOutput struct {
	Body struct {
		Count int64 `json:"count"`
	}
}

func (h *APIKeyHandler) HandleRevoke(ctx context.Context, input *RevokeAPIKeysInput) (*CountOutput, error) {
	if _, err := h.admin.Authorize(ctx, input.Authorization); err != nil {
		return nil, err
	}

	n, err := h.keys.Revoke(ctx, input.Name)
	if err != nil {
		return nil, storeError(ctx, err, "Failed to revoke API keys")
	}
	if n > 0 {
		h.notify(ctx, h.notifier.NotifyKeysRevoked(input.Name, n))
	}

	out := &CountOutput{}
	out.Body.Count = n
	return out, nil
}

type RotateAPIKeyInput struct {
	auth.AdminInput
	Name string `path:"name"`
	Body struct {
		Days *int `json:"days,omitempty" minimum:"0" maximum:"36500" doc:"Validity of the new key in days, 30 when omitted"`
	} `required:"false"`
}

type RotateAPIKeyOutput struct {
	Body struct {
		Deactivated int64          `json:"deactivated"`
		Key         APIKeyResponse `json:"key"`
	}
}

func (h *APIKeyHandler) HandleRotate(ctx context.Context, input *RotateAPIKeyInput) (*RotateAPIKeyOutput, error) {
	if _, err := h.admin.Authorize(ctx, input.Authorization); err != nil {
		return nil, err
	}

	days := keystore.DefaultRotateDays
	if input.Body.Days != nil {
		days = *input.Body.Days
	}
	key, deactivated, err := h.keys.Rotate(ctx, input.Name, days)
	if err != nil {
		return nil, storeError(ctx, err, "Failed to rotate API key")
	}
	h.notify(ctx, h.notifier.NotifyKeyIssued(*key, deactivated))

	out := &RotateAPIKeyOutput{}
	out.Body.Deactivated = deactivated
	out.Body.Key = toResponse(key)
	return out, nil
}

type DeleteAPIKeyInput struct {
	auth.AdminInput
	Target string `path:"name" doc:"Exact key, or a name whose keys are all removed"`
}

type DeleteAPIKeyOutput struct {
	Body struct {
		ByKey bool  `json:"by_key"`
		Count int64 `json:"count"`
	}
}

func (h *APIKeyHandler) HandleDelete(ctx context.Context, input *DeleteAPIKeyInput) (*DeleteAPIKeyOutput, error) {
	if _, err := h.admin.Authorize(ctx, input.Authorization); err != nil {
		return nil, err
	}

	res, err := h.keys.Delete(ctx, input.Target)
	if err != nil {
		return nil, storeError(ctx, err, "Failed to delete API key")
	}
	if res.Count == 0 {
		return nil, huma.Error404NotFound("No matching key or name found")
	}
	h.notify(ctx, h.notifier.NotifyKeysDeleted(input.Target, res.ByKey, res.Count))

	out := &DeleteAPIKeyOutput{}
	out.Body.ByKey = res.ByKey
	out.Body.Count = res.Count
	return out, nil
}

func (h *APIKeyHandler) notify(ctx context.Context, err error) {
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Failed to send key notification")
	}
}

func storeError(ctx context.Context, err error, msg string) error {
	switch {
	case errors.Is(err, keystore.ErrInvalidName):
		return huma.Error400BadRequest("Name is required")
	case errors.Is(err, keystore.ErrInvalidDuration):
		return huma.Error400BadRequest(fmt.Sprintf("Days must be between 0 and %d", keystore.MaxDays))
	}
	logging.FromContext(ctx).WithError(err).Error(msg)
	return huma.Error500InternalServerError(msg)
}
