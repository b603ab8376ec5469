package middleware

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"goa.design/chatui/runtime/agent/model"
)

type fakeClient struct {
	completeErr error
	streamErr   error

	completeCalls int
	streamCalls   int
}

func (f *fakeClient) Complete(context.Context, model.Request) (model.Response, error) {
	f.completeCalls++
	return model.Response{StopReason: "end_turn"}, f.completeErr
}

func (f *fakeClient) Stream(context.Context, model.Request) (model.Streamer, error) {
	f.streamCalls++
	return nil, f.streamErr
}

func rateLimitedErr() error {
	return &model.ProviderError{
		Provider:   "anthropic",
		Operation:  "messages.new",
		HTTPStatus: 429,
		Kind:       model.ProviderErrorKindRateLimited,
		Message:    "slow down",
	}
}

func helloRequest() model.Request {
	return model.Request{
		Messages:  []*model.Message{model.NewUserMessage("hello")},
		MaxTokens: 10,
	}
}

func TestBackoffOnRateLimited(t *testing.T) {
	limiter := newLocalRateLimiter(RateLimitOptions{InitialTPM: 60000})
	client := &fakeClient{completeErr: rateLimitedErr()}
	wrapped := limiter.Middleware()(client)

	_, err := wrapped.Complete(context.Background(), helloRequest())
	pe, ok := model.AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, model.ProviderErrorKindRateLimited, pe.Kind)
	require.Equal(t, 30000.0, limiter.CurrentTPM())
}

func TestBackoffStopsAtFloor(t *testing.T) {
	limiter := newLocalRateLimiter(RateLimitOptions{InitialTPM: 1000})
	wrapped := limiter.Middleware()(&fakeClient{streamErr: rateLimitedErr()})

	for range 10 {
		_, _ = wrapped.Stream(context.Background(), helloRequest())
	}
	require.Equal(t, 100.0, limiter.CurrentTPM())
}

func TestOtherErrorsKeepBudget(t *testing.T) {
	limiter := newLocalRateLimiter(RateLimitOptions{InitialTPM: 60000, MaxTPM: 120000})
	unavailable := &model.ProviderError{Provider: "openai", Kind: model.ProviderErrorKindUnavailable}

	for _, err := range []error{unavailable, model.ErrStreamingUnsupported, errors.New("boom")} {
		wrapped := limiter.Middleware()(&fakeClient{streamErr: err})
		_, got := wrapped.Stream(context.Background(), helloRequest())
		require.ErrorIs(t, got, err)
	}
	require.Equal(t, 60000.0, limiter.CurrentTPM())
}

func TestProbeOnSuccess(t *testing.T) {
	limiter := newLocalRateLimiter(RateLimitOptions{InitialTPM: 60000, MaxTPM: 62000})
	client := &fakeClient{}
	wrapped := limiter.Middleware()(client)

	resp, err := wrapped.Complete(context.Background(), helloRequest())
	require.NoError(t, err)
	require.Equal(t, "end_turn", resp.StopReason)
	require.Equal(t, 1, client.completeCalls)
	require.Equal(t, 62000.0, limiter.CurrentTPM())

	_, err = wrapped.Complete(context.Background(), helloRequest())
	require.NoError(t, err)
	require.Equal(t, 62000.0, limiter.CurrentTPM(), "budget capped at MaxTPM")
}

func TestLimiterErrorSkipsProvider(t *testing.T) {
	limiter := newLocalRateLimiter(RateLimitOptions{InitialTPM: 60})
	// A zero bucket rejects any non-zero request without waiting.
	limiter.limiter = rate.NewLimiter(0, 0)
	client := &fakeClient{}
	wrapped := limiter.Middleware()(client)

	req := model.Request{Messages: []*model.Message{model.NewUserMessage(strings.Repeat("a", 600))}}
	_, err := wrapped.Complete(context.Background(), req)
	require.Error(t, err)
	_, err = wrapped.Stream(context.Background(), req)
	require.Error(t, err)
	require.Zero(t, client.completeCalls)
	require.Zero(t, client.streamCalls)
}

func TestMiddlewareNilClient(t *testing.T) {
	limiter := newLocalRateLimiter(RateLimitOptions{})
	require.Nil(t, limiter.Middleware()(nil))
	require.Equal(t, float64(defaultTPM), limiter.CurrentTPM())
}

func TestEstimateTokens(t *testing.T) {
	small := estimateTokens(model.Request{Messages: []*model.Message{model.NewUserMessage("short")}})
	big := estimateTokens(model.Request{Messages: []*model.Message{model.NewUserMessage("this is a much longer message")}})
	require.Positive(t, small)
	require.Greater(t, big, small)

	require.Equal(t, requestOverhead, estimateTokens(model.Request{}))

	full := model.Request{
		System: strings.Repeat("s", 30),
		Messages: []*model.Message{
			nil,
			{Role: model.RoleAssistant, Parts: []model.Part{model.ToolUsePart{ID: "1", Name: "weather"}}},
			{Role: model.RoleUser, Parts: []model.Part{
				model.ToolResultPart{ToolUseID: "1", Content: strings.Repeat("r", 30)},
				model.ToolResultPart{ToolUseID: "2", Content: map[string]any{"ignored": true}},
				model.RetryPart{Content: strings.Repeat("x", 30)},
			}},
		},
	}
	require.Equal(t, 30+requestOverhead, estimateTokens(full))
}
