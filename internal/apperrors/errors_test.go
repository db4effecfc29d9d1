package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExternalServiceErrorIsRetryable(t *testing.T) {
	cause := errors.New("connection refused")
	err := ExternalServiceError("inference", cause)

	assert.Equal(t, http.StatusBadGateway, err.HTTPStatus)
	assert.True(t, err.Retryable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "inference", err.Details["service"])
}

func TestInvalidInputIsNotRetryable(t *testing.T) {
	err := InvalidInput("prompts", "at most two prompt sets")

	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)
	assert.False(t, err.Retryable)
	assert.Equal(t, "prompts", err.Details["field"])
}

func TestAsAppErrorThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("run: %w", MissingField("human"))

	appErr, ok := AsAppError(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrCodeMissingField, appErr.Code)

	_, ok = AsAppError(errors.New("plain"))
	assert.False(t, ok)
}

func TestToResponse(t *testing.T) {
	resp := Timeout("completion").ToResponse()

	assert.Equal(t, ErrCodeTimeout, resp.Error.Code)
	assert.True(t, resp.Error.Retryable)
	assert.Equal(t, "completion", resp.Error.Details["operation"])
}
