package apperr_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"fairroll-backend/internal/apperr"
)

func TestErrorsIsMatchesByCode(t *testing.T) {
	err := apperr.E(apperr.CodeConflict, "services.DiceService.RotateSeed", "dice is locked")
	wrapped := fmt.Errorf("outer: %w", err)

	require.ErrorIs(t, wrapped, apperr.ErrConflict)
	require.NotErrorIs(t, wrapped, apperr.ErrInvalidState)
	require.Equal(t, apperr.CodeConflict, apperr.CodeOf(wrapped))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := apperr.Wrap(apperr.CodeInternal, "op", cause)

	require.ErrorIs(t, err, cause)
	require.ErrorIs(t, err, apperr.ErrInternal)
	require.Nil(t, apperr.Wrap(apperr.CodeInternal, "op", nil))
}

func TestCodeOfUnclassified(t *testing.T) {
	require.Equal(t, apperr.CodeInternal, apperr.CodeOf(errors.New("boom")))
}

func TestClassAndStatus(t *testing.T) {
	cases := []struct {
		code   apperr.Code
		class  apperr.Class
		status int
	}{
		{apperr.CodeInvalidOdds, apperr.ClassFixInput, http.StatusBadRequest},
		{apperr.CodeInsufficientBalance, apperr.ClassFixInput, http.StatusPaymentRequired},
		{apperr.CodeConflict, apperr.ClassTryAgain, http.StatusConflict},
		{apperr.CodeSettlementTimeout, apperr.ClassTryAgain, http.StatusGatewayTimeout},
		{apperr.CodeSettlementFailed, apperr.ClassTryAgain, http.StatusServiceUnavailable},
		{apperr.CodeResolution, apperr.ClassContactSupport, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		require.Equal(t, tc.class, apperr.ClassOf(tc.code), tc.code)
		require.Equal(t, tc.status, apperr.HTTPStatus(tc.code), tc.code)
	}
}

func TestErrorMessage(t *testing.T) {
	err := apperr.E(apperr.CodeInvalidSeed, "fairness.SetClientSeed", "client seed is empty")
	require.Equal(t, "fairness.SetClientSeed: invalid_seed: client seed is empty", err.Error())
}
