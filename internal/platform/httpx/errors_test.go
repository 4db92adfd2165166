package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func respond(t *testing.T, err error) (int, ErrorBody) {
	t.Helper()
	rec := httptest.NewRecorder()
	RespondError(rec, err)
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestRespondErrorStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", ErrNotFound, http.StatusNotFound},
		{"duplicate code", ErrDuplicate, http.StatusBadRequest},
		{"validation", ErrValidation, http.StatusBadRequest},
		{"invalid transition", ErrInvalidTransition, http.StatusBadRequest},
		{"insufficient stock", ErrInsufficientStock, http.StatusBadRequest},
		{"conflicting state", ErrConflict, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := respond(t, fmt.Errorf("%w: detail", tc.err))
			require.Equal(t, tc.want, code)
			require.False(t, body.Success)
			require.Equal(t, tc.want, body.Error.Status)
		})
	}
}

func TestRespondErrorRejectedTransitionIsBadRequest(t *testing.T) {
	code, body := respond(t, fmt.Errorf("%w: dispatch received -> dispatched", ErrInvalidTransition))
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "Invalid Transition", body.Error.Title)
}

func TestRespondErrorUnknownIsInternal(t *testing.T) {
	code, body := respond(t, errors.New("boom"))
	require.Equal(t, http.StatusInternalServerError, code)
	require.Empty(t, body.Error.Detail)
}
