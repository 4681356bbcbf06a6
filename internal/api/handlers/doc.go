package handlers

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/donaldgifford/price-watch/internal/engine"
	"github.com/donaldgifford/price-watch/internal/fetch"
	"github.com/donaldgifford/price-watch/internal/store"
)

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error string `json:"error" example:"something went wrong"`
}

// StatusResponse is a generic status response body.
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// StatusOutput wraps StatusResponse for huma operations.
type StatusOutput struct {
	Body StatusResponse
}

func statusOutput(s string) *StatusOutput {
	return &StatusOutput{Body: StatusResponse{Status: s}}
}

// apiError maps domain errors onto HTTP statuses. action prefixes the
// message of unexpected failures.
func apiError(err error, action string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return huma.Error404NotFound("product not found")
	case errors.Is(err, engine.ErrInvalidProduct):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, store.ErrDuplicateURL):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, engine.ErrCheckInProgress), errors.Is(err, engine.ErrProductDisabled):
		return huma.Error409Conflict(err.Error())
	case fetch.KindOf(err) != "":
		return huma.Error502BadGateway(err.Error())
	default:
		return huma.Error500InternalServerError(action + ": " + err.Error())
	}
}
