package businessflow

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/amirphl/signage-publisher/app/services"
	"github.com/amirphl/signage-publisher/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifySignageError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     string
		category string
	}{
		{"not found", services.NewAPIError("get_media", http.StatusNotFound, ""), CodeRemoteMediaNotFound, CategoryTerminal},
		{"server error", services.NewAPIError("get_media", http.StatusBadGateway, ""), CodeSignageUnavailable, CategoryTransient},
		{"rate limited", services.NewAPIError("get_media", http.StatusTooManyRequests, ""), CodeSignageUnavailable, CategoryTransient},
		{"undecodable 200", services.NewAPIError("get_media", http.StatusOK, "<html>"), CodeMalformedResponse, CategoryTerminal},
		{"client error", services.NewAPIError("get_media", http.StatusUnprocessableEntity, ""), CodeSignageUnavailable, CategoryTerminal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			be := classifySignageError("get_media", tt.err)
			require.NotNil(t, be)
			assert.Equal(t, tt.code, be.Code)
			assert.Equal(t, tt.category, be.Category)
			assert.ErrorIs(t, be, tt.err)
		})
	}

	t.Run("business errors pass through", func(t *testing.T) {
		orig := NewTransientError(CodeVerificationFailed, "not verified", nil)
		assert.Same(t, orig, classifySignageError("push_screen", fmt.Errorf("wrapped: %w", orig)))
	})
}

func TestErrorHelpers(t *testing.T) {
	assert.Equal(t, CategoryTransient, ErrorCategory(errors.New("plain")))
	assert.Equal(t, "", ErrorCode(errors.New("plain")))

	notReady := NewMediaNotReadyError(models.ReadinessNeedsNormalization)
	assert.Equal(t, CategoryPrecondition, ErrorCategory(notReady))
	assert.True(t, IsPrecondition(notReady))
	assert.True(t, IsMediaNotReady(notReady))
	assert.Equal(t, NextActionRetryNormalization, notReady.NextAction)

	assert.Equal(t, NextActionValidate, NextActionForReadiness(models.ReadinessPending))
	assert.Equal(t, NextActionWait, NextActionForReadiness(models.ReadinessNormalizing))
	assert.Equal(t, NextActionUpload, NextActionForReadiness(models.ReadinessRejected))

	noCanonical := NewBusinessError(CodeNoCanonicalAsset, "nothing uploaded", ErrNoCanonicalAsset)
	assert.True(t, IsNoCanonicalAsset(fmt.Errorf("gate: %w", noCanonical)))
	assert.True(t, IsPrecondition(noCanonical))

	assert.True(t, IsTerminal(NewTerminalError(CodePollTimeout, "timeout", nil)))
	assert.False(t, IsTerminal(NewTransientError(CodePollTimeout, "timeout", nil)))
}
