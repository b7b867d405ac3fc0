package apierr

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteHTTP_StatusMapping(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindAuth, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindNotFound, http.StatusNotFound},
		{KindConflict, http.StatusConflict},
		{KindAlreadyClaimed, http.StatusConflict},
		{KindAlreadyInSquad, http.StatusConflict},
		{KindSquadFull, http.StatusConflict},
		{KindInsufficientFunds, http.StatusPaymentRequired},
		{KindCooldown, http.StatusTooManyRequests},
		{KindCampaignLocked, http.StatusLocked},
		{KindUnreachable, http.StatusBadGateway},
		{KindTimeout, http.StatusGatewayTimeout},
		{KindInternal, http.StatusInternalServerError},
	}

	for _, c := range cases {
		rec := httptest.NewRecorder()
		WriteHTTP(rec, New(c.kind, "boom"))
		assert.Equal(t, c.want, rec.Code, "kind %s", c.kind)
	}
}

func TestWriteHTTP_InternalErrorsNeverLeakCause(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteHTTP(rec, Wrap(errors.New("pq: connection refused, password=hunter2"), "load guild config"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")
	assert.Contains(t, rec.Body.String(), "internal error")
}

func TestWriteHTTP_NonDomainErrorTreatedAsInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteHTTP(rec, errors.New("raw stdlib error"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"internal"`)
}

func TestWriteHTTP_SetsRetryAfterHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	err := New(KindCooldown, "transfer cooldown in effect").WithDetails(map[string]any{
		"retry_after_seconds": int64(42),
	})
	WriteHTTP(rec, err)

	assert.Equal(t, "42", rec.Header().Get("Retry-After"))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	wrapped := Wrap(cause, "query failed")

	require.ErrorIs(t, wrapped, cause)
}

func TestWithFieldAndDetailsChain(t *testing.T) {
	err := New(KindValidation, "amount must be >= 1").WithField("amount").WithDetails(map[string]any{"min": 1})

	assert.Equal(t, "amount", err.Field)
	assert.Equal(t, 1, err.Details["min"])
	assert.Equal(t, "amount must be >= 1", err.Error())
}
