package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/gdg-garage/number-info-api/internal/lookup"
	"github.com/sirupsen/logrus"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	status  int
	Message string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func (e *ErrorBody) Error() string  { return e.Message }
func (e *ErrorBody) GetStatus() int { return e.status }

func newError(status int, msg string, errs ...error) huma.StatusError {
	body := &ErrorBody{status: status, Message: msg}
	for _, err := range errs {
		if err != nil {
			body.Details = append(body.Details, err.Error())
		}
	}
	return body
}

func init() {
	huma.NewError = newError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Error("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, &ErrorBody{status: status, Message: msg})
}

// failureMessages holds the texts an endpoint uses for lookup failures.
type failureMessages struct {
	noData   string
	timeout  string
	upstream string
}

func publicMessages(attribution string) failureMessages {
	return failureMessages{
		noData:   "No data found",
		timeout:  fmt.Sprintf("The %s server may be busy. Please try again..", attribution),
		upstream: "Upstream API error",
	}
}

func keyedMessages(ownerTag string) failureMessages {
	return failureMessages{
		noData:   "No data found. Details By: " + ownerTag,
		timeout:  "Server is busy, please try again later. Details By: " + ownerTag,
		upstream: fmt.Sprintf("Upstream API error. Contact %s for support.", ownerTag),
	}
}

// status maps a lookup error to an HTTP status and message.
func (m failureMessages) status(err error) (int, string) {
	switch {
	case errors.Is(err, lookup.ErrNotConfigured):
		return http.StatusInternalServerError, "API backend not configured"
	case errors.Is(err, lookup.ErrNoData):
		return http.StatusNotFound, m.noData
	case errors.Is(err, lookup.ErrTimeout):
		return http.StatusGatewayTimeout, m.timeout
	default:
		return http.StatusBadGateway, m.upstream
	}
}
