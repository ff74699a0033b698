package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("chatService.SendMessage: %w", NotFound("conversation", errors.New("no rows")))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrUnauthorized))
	assert.True(t, HasCode(err, CodeNotFound))
}

func TestFrom(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{"app error passes through", InvalidTransition("accepted", "cancelled"), CodeInvalidTransition, http.StatusConflict},
		{"wrapped app error", fmt.Errorf("x: %w", CallsDisabled("video")), CodeCallsDisabled, http.StatusForbidden},
		{"plain error becomes internal", errors.New("boom"), CodeInternal, http.StatusInternalServerError},
		{"credential failure is bad gateway", CredentialIssuanceFailed(errors.New("no cert")), CodeCredentialIssuanceFailed, http.StatusBadGateway},
		{"unauthorized is forbidden", Unauthorized("not a participant"), CodeUnauthorized, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := From(tt.err)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Equal(t, tt.wantStatus, got.Status)
		})
	}
	assert.Nil(t, From(nil))
}

func TestUnwrapKeepsCause(t *testing.T) {
	cause := errors.New("signing key missing")
	err := CredentialIssuanceFailed(cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "signing key missing")
}
