package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyProvider struct {
	err   error
	calls int
}

func (p *flakyProvider) ID() string    { return "flaky" }
func (p *flakyProvider) Enabled() bool { return true }
func (p *flakyProvider) Call(context.Context, string, string) (string, error) {
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return "[]", nil
}

func TestBreakerProvider_OpensAfterThreshold(t *testing.T) {
	inner := &flakyProvider{err: errors.New("upstream down")}
	p := NewBreakerProvider(inner, 2, time.Minute)

	_, err := p.Call(context.Background(), "s", "u")
	require.Error(t, err)
	_, err = p.Call(context.Background(), "s", "u")
	require.Error(t, err)

	// 熔断已打开：不再触达上游
	_, err = p.Call(context.Background(), "s", "u")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, 2, inner.calls)
}

func TestBreakerProvider_RecoversAfterCooldown(t *testing.T) {
	inner := &flakyProvider{err: errors.New("upstream down")}
	p := NewBreakerProvider(inner, 1, 20*time.Millisecond)

	_, err := p.Call(context.Background(), "s", "u")
	require.Error(t, err)
	_, err = p.Call(context.Background(), "s", "u")
	assert.Contains(t, err.Error(), "circuit open")

	time.Sleep(30 * time.Millisecond)
	inner.err = nil

	// 半开探测成功后恢复
	out, err := p.Call(context.Background(), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, "[]", out)

	_, err = p.Call(context.Background(), "s", "u")
	assert.NoError(t, err)
}
