package api

import (
	"context"
	"errors"
	"net/http"

	"malloy-publisher/internal/domain"
)

// statusClientClosedRequest mirrors the nginx convention for requests the
// client abandoned before a response was written.
const statusClientClosedRequest = 499

// apiError is the JSON error envelope of every non-2xx response.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var notFound *domain.NotFoundError
	var validation *domain.ValidationError
	var frozen *domain.FrozenConfigError
	var compilation *domain.CompilationError
	var query *domain.QueryError
	var connection *domain.ConnectionError
	var notImplemented *domain.NotImplementedError
	var fetch *domain.FetchError

	switch {
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &frozen):
		return http.StatusForbidden
	case errors.As(err, &compilation):
		return http.StatusFailedDependency
	case errors.As(err, &query):
		return http.StatusBadRequest
	case errors.As(err, &connection):
		return http.StatusBadGateway
	case errors.As(err, &notImplemented):
		return http.StatusNotImplemented
	case errors.As(err, &fetch):
		if fetch.BadURI {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
