// Package errors maps domain errors onto the HTTP error envelope.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/geoplex/procjobs/pkg/execmode"
	"github.com/geoplex/procjobs/pkg/job"
	"github.com/geoplex/procjobs/pkg/jobstore"
)

// Stable machine codes carried in error responses.
const (
	CodeBadRequest        = "BAD_REQUEST"
	CodeInvalidPreference = "INVALID_PREFERENCE"
	CodeInvalidParameter  = "INVALID_PARAMETER"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeNotFound          = "NOT_FOUND"
	CodeMethodNotAllowed  = "METHOD_NOT_ALLOWED"
	CodeInternal          = "INTERNAL_ERROR"
)

// Sentinels for access failures raised by handlers.
var (
	ErrUnauthorized = errors.New("authentication required")
	ErrForbidden    = errors.New("operation not permitted")
)

// BadRequestError reports a syntactically malformed request parameter.
type BadRequestError struct {
	Field  string
	Value  string
	Reason string
}

func (e *BadRequestError) Error() string {
	return "invalid " + e.Field + " " + e.Value + ": " + e.Reason
}

// ErrorDetail is the body of one error response.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Value   string `json:"value,omitempty"`
}

// HTTPErrorResponse is the JSON error envelope.
type HTTPErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// Respond writes an error envelope with the given status and code.
func Respond(w http.ResponseWriter, status int, detail ErrorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: detail})
}

// RespondWithError maps a domain error onto its HTTP status and stable code:
//
//	malformed preference / malformed parameter  -> 400
//	missing identity                            -> 401
//	inaccessible but visible resource           -> 403
//	unknown job / process / provider            -> 404
//	semantically invalid filter or field value  -> 422
//	anything else                               -> 500
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var malformed *execmode.MalformedPreferenceError
	var badReq *BadRequestError
	var invalid *job.ValidationError

	switch {
	case errors.As(err, &malformed):
		Respond(w, http.StatusBadRequest, ErrorDetail{
			Code: CodeInvalidPreference, Message: err.Error(), Value: malformed.Raw,
		})
	case errors.As(err, &badReq):
		Respond(w, http.StatusBadRequest, ErrorDetail{
			Code: CodeBadRequest, Message: err.Error(), Field: badReq.Field, Value: badReq.Value,
		})
	case errors.Is(err, ErrUnauthorized):
		Respond(w, http.StatusUnauthorized, ErrorDetail{
			Code: CodeUnauthorized, Message: err.Error(),
		})
	case errors.Is(err, ErrForbidden):
		Respond(w, http.StatusForbidden, ErrorDetail{
			Code: CodeForbidden, Message: err.Error(),
		})
	case errors.Is(err, jobstore.ErrNotFound):
		Respond(w, http.StatusNotFound, ErrorDetail{
			Code: CodeNotFound, Message: err.Error(),
		})
	case errors.As(err, &invalid):
		Respond(w, http.StatusUnprocessableEntity, ErrorDetail{
			Code: CodeInvalidParameter, Message: err.Error(), Field: invalid.Field, Value: invalid.Value,
		})
	default:
		Respond(w, http.StatusInternalServerError, ErrorDetail{
			Code: CodeInternal, Message: err.Error(),
		})
	}
}

// NotFoundHandler is the router fallback for unknown paths.
func NotFoundHandler(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusNotFound, ErrorDetail{Code: CodeNotFound, Message: "resource not found"})
}

// MethodNotAllowedHandler is the router fallback for unsupported methods.
func MethodNotAllowedHandler(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusMethodNotAllowed, ErrorDetail{Code: CodeMethodNotAllowed, Message: "method not allowed"})
}
