package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoplex/procjobs/pkg/execmode"
	"github.com/geoplex/procjobs/pkg/job"
	"github.com/geoplex/procjobs/pkg/jobstore"
)

func respond(t *testing.T, err error) (int, HTTPErrorResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, err)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return rec.Code, body
}

func TestRespondWithError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "malformed preference",
			err:        &execmode.MalformedPreferenceError{Raw: "wait=abc", Reason: "wait must be a positive integer"},
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidPreference,
		},
		{
			name:       "malformed parameter",
			err:        &BadRequestError{Field: "page", Value: "-1", Reason: "must be non-negative"},
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeBadRequest,
		},
		{
			name:       "missing identity",
			err:        ErrUnauthorized,
			wantStatus: http.StatusUnauthorized,
			wantCode:   CodeUnauthorized,
		},
		{
			name:       "forbidden",
			err:        fmt.Errorf("dismiss job: %w", ErrForbidden),
			wantStatus: http.StatusForbidden,
			wantCode:   CodeForbidden,
		},
		{
			name:       "not found through wrapping",
			err:        fmt.Errorf("get job: %w", jobstore.ErrNotFound),
			wantStatus: http.StatusNotFound,
			wantCode:   CodeNotFound,
		},
		{
			name:       "semantic validation failure",
			err:        &job.ValidationError{Field: "sort", Value: "priority", Reason: "unknown sort key"},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   CodeInvalidParameter,
		},
		{
			name:       "unmapped error",
			err:        errors.New("disk on fire"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := respond(t, tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, body.Error.Code)
			assert.NotEmpty(t, body.Error.Message)
		})
	}
}

func TestValidationErrorCarriesFieldAndValue(t *testing.T) {
	_, body := respond(t, &job.ValidationError{Field: "datetime", Value: "../..", Reason: "interval must bound at least one end"})
	assert.Equal(t, "datetime", body.Error.Field)
	assert.Equal(t, "../..", body.Error.Value)
}

func TestRouterFallbacks(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NotFoundHandler(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)

		var body HTTPErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, CodeNotFound, body.Error.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		MethodNotAllowedHandler(rec, httptest.NewRequest(http.MethodPut, "/jobs", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

		var body HTTPErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, CodeMethodNotAllowed, body.Error.Code)
	})
}
