package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpane/marketsync/internal/domain"
)

// fakeClient is a scriptable provider for tests.
type fakeClient struct {
	Unimplemented
	name      string
	caps      []Capability
	bars      []domain.Bar
	barsErr   error
	quote     *domain.Quote
	quoteErr  error
	healthErr error
	calls     int
}

func newFakeClient(name string, caps ...Capability) *fakeClient {
	return &fakeClient{Unimplemented: Unimplemented{Provider: name}, name: name, caps: caps}
}

func (f *fakeClient) Name() string               { return f.name }
func (f *fakeClient) Capabilities() []Capability { return f.caps }

func (f *fakeClient) HealthCheck(ctx context.Context) error {
	f.calls++
	return f.healthErr
}

func (f *fakeClient) DailyBars(ctx context.Context, symbol string, from, to time.Time) ([]domain.Bar, error) {
	f.calls++
	if f.barsErr != nil {
		return nil, f.barsErr
	}
	return f.bars, nil
}

func (f *fakeClient) Quote(ctx context.Context, symbol string) (*domain.Quote, error) {
	f.calls++
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return f.quote, nil
}

func TestErrorKindOf(t *testing.T) {
	err := NewError("alphavantage", "daily_bars", KindRateLimited, errors.New("429"))
	assert.Equal(t, KindRateLimited, KindOf(err))

	wrapped := errors.New("plain")
	assert.Equal(t, KindNetwork, KindOf(wrapped))
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindNetwork, true},
		{KindTimeout, true},
		{KindRateLimited, true},
		{KindUpstream5xx, true},
		{KindUnavailable, true},
		{KindPlanLimited, false},
		{KindAuth, false},
		{KindNotFound, false},
		{KindParse, false},
		{KindUnsupported, false},
	}
	for _, tt := range tests {
		err := NewError("p", "op", tt.kind, nil)
		assert.Equal(t, tt.want, Retryable(err), "kind %s", tt.kind)
	}
}

func TestKindFromStatus(t *testing.T) {
	assert.Equal(t, KindRateLimited, KindFromStatus(429))
	assert.Equal(t, KindAuth, KindFromStatus(401))
	assert.Equal(t, KindAuth, KindFromStatus(403))
	assert.Equal(t, KindNotFound, KindFromStatus(404))
	assert.Equal(t, KindUpstream5xx, KindFromStatus(500))
	assert.Equal(t, KindUpstream5xx, KindFromStatus(503))
	assert.Equal(t, KindNetwork, KindFromStatus(400))
}

// timeoutErr satisfies net.Error with Timeout() true.
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestKindFromTransport(t *testing.T) {
	assert.Equal(t, KindTimeout, KindFromTransport(context.DeadlineExceeded))
	assert.Equal(t, KindTimeout, KindFromTransport(fmt.Errorf("get: %w", timeoutErr{})))
	assert.Equal(t, KindNetwork, KindFromTransport(errors.New("connection refused")))
}

func TestWithRetryStopsOnDeterministicFailure(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), zerolog.Nop(), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, "op", func() error {
		attempts++
		return NewError("p", "op", KindAuth, errors.New("bad key"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestWithRetryRetriesTransient(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), zerolog.Nop(), RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, "op", func() error {
		attempts++
		if attempts < 3 {
			return NewError("p", "op", KindNetwork, errors.New("timeout"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestHealthCheckerCachesResult(t *testing.T) {
	client := newFakeClient("p", CapQuote)
	client.healthErr = errors.New("down")

	hc := NewHealthChecker(client, time.Minute)

	require.Error(t, hc.Check(context.Background()))
	require.Error(t, hc.Check(context.Background()))
	assert.Equal(t, 1, client.calls, "second check within TTL must not hit the provider")

	hc.Invalidate()
	client.healthErr = nil
	require.NoError(t, hc.Check(context.Background()))
	assert.Equal(t, 2, client.calls)
}

func TestRegistryPrimaryOrdering(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	a := newFakeClient("alphavantage", CapDailyBars, CapFundamentals)
	y := newFakeClient("yahoo", CapDailyBars, CapQuote)
	reg.Register(a)
	reg.Register(y)

	// Without a primary, registration order wins.
	clients := reg.ForCapability(CapDailyBars)
	require.Len(t, clients, 2)
	assert.Equal(t, "alphavantage", clients[0].Name())

	// Primary is authoritative over registration order.
	require.NoError(t, reg.SetPrimary("yahoo"))
	clients = reg.ForCapability(CapDailyBars)
	require.Len(t, clients, 2)
	assert.Equal(t, "yahoo", clients[0].Name())
	assert.Equal(t, "alphavantage", clients[1].Name())

	// Capability filtering still applies.
	clients = reg.ForCapability(CapFundamentals)
	require.Len(t, clients, 1)
	assert.Equal(t, "alphavantage", clients[0].Name())
}

func TestRegistrySetPrimaryUnknown(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	assert.Error(t, reg.SetPrimary("nope"))
}

func TestCompositeFallsBackToSecondary(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	primary := newFakeClient("alphavantage", CapDailyBars)
	primary.barsErr = NewError("alphavantage", "daily_bars", KindAuth, errors.New("expired key"))
	fallback := newFakeClient("yahoo", CapDailyBars)
	fallback.bars = []domain.Bar{{Symbol: "AAPL", Close: 187.5, Source: "yahoo"}}
	reg.Register(primary)
	reg.Register(fallback)

	comp := NewComposite(reg, zerolog.Nop())
	comp.policy = RetryPolicy{MaxAttempts: 1}

	bars, source, err := comp.DailyBars(context.Background(), "AAPL", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "yahoo", source)
	require.Len(t, bars, 1)
	assert.Equal(t, "AAPL", bars[0].Symbol)
}

func TestCompositeAllProvidersFail(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	primary := newFakeClient("alphavantage", CapQuote)
	primary.quoteErr = NewError("alphavantage", "quote", KindUnavailable, errors.New("outage"))
	reg.Register(primary)

	comp := NewComposite(reg, zerolog.Nop())
	comp.policy = RetryPolicy{MaxAttempts: 1}

	_, source, err := comp.Quote(context.Background(), "AAPL")
	require.Error(t, err)
	assert.Empty(t, source)
}

func TestCompositePerProviderRetryPolicy(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	flaky := newFakeClient("alphavantage", CapDailyBars)
	flaky.barsErr = NewError("alphavantage", "daily_bars", KindNetwork, errors.New("reset"))
	reg.Register(flaky)

	comp := NewComposite(reg, zerolog.Nop())
	comp.policy = RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}
	comp.SetRetryPolicy("alphavantage", RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond})

	_, _, err := comp.DailyBars(context.Background(), "AAPL", time.Time{}, time.Time{})
	require.Error(t, err)
	assert.Equal(t, 3, flaky.calls, "override must replace the default attempt budget")
}

func TestCompositeNoCapability(t *testing.T) {
	reg := NewRegistry(zerolog.Nop())
	reg.Register(newFakeClient("yahoo", CapQuote))

	comp := NewComposite(reg, zerolog.Nop())
	_, _, err := comp.Statements(context.Background(), "AAPL", "annual")
	require.Error(t, err)
	assert.Equal(t, KindUnsupported, KindOf(err))
}

func TestUnimplementedStubs(t *testing.T) {
	u := Unimplemented{Provider: "stub"}
	_, err := u.Fundamentals(context.Background(), "AAPL")
	require.Error(t, err)
	assert.Equal(t, KindUnsupported, KindOf(err))
}
