package openai

import (
	"context"
	"errors"
	"testing"

	goopenai "github.com/openai/openai-go/v3"
	"github.com/stretchr/testify/assert"

	"github.com/jinford/doc-rag/internal/core/answer"
	"github.com/jinford/doc-rag/pkg/apperr"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		reason apperr.ProviderReason
	}{
		{"auth", &goopenai.Error{StatusCode: 401}, apperr.ReasonAuth},
		{"forbidden", &goopenai.Error{StatusCode: 403}, apperr.ReasonAuth},
		{"rate limit", &goopenai.Error{StatusCode: 429}, apperr.ReasonRateLimit},
		{"server error", &goopenai.Error{StatusCode: 500}, apperr.ReasonOther},
		{"deadline", context.DeadlineExceeded, apperr.ReasonTimeout},
		{"network", errors.New("connection refused"), apperr.ReasonOther},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyError("openai", tc.err)
			assert.True(t, apperr.IsProviderUnavailable(err))
			assert.Equal(t, tc.reason, apperr.ProviderReasonOf(err))
		})
	}
}

func TestBuildParamsModelFallback(t *testing.T) {
	g := NewGenerator("test-key", WithGenerateModel("gpt-4o"))

	params := g.buildParams(answer.GenerateParams{
		Messages: []answer.Message{{Role: "user", Content: "hello"}},
	})
	assert.Equal(t, "gpt-4o", string(params.Model))

	params = g.buildParams(answer.GenerateParams{
		Messages: []answer.Message{{Role: "user", Content: "hello"}},
		Model:    "gpt-4o-mini",
	})
	assert.Equal(t, "gpt-4o-mini", string(params.Model))
}
