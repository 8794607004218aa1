package risk

import (
	"context"
	"errors"
	"testing"

	"signal-executor/signal"
)

type stubGuard struct {
	err   error
	calls *int
}

func (s stubGuard) PreSize(context.Context, signal.Signal) error {
	if s.calls != nil {
		*s.calls++
	}
	return s.err
}

func TestMultiGuard(t *testing.T) {
	var after int
	g := MultiGuard{
		Guards: []Guard{
			stubGuard{}, // pass
			nil,
			stubGuard{err: ErrExposureLimitReached}, // fail
			stubGuard{calls: &after},
		},
	}
	err := g.PreSize(context.Background(), signal.Signal{Symbol: "BTCUSDT"})
	if !errors.Is(err, ErrExposureLimitReached) {
		t.Fatalf("expected exposure error, got %v", err)
	}
	if after != 0 {
		t.Fatalf("guards after a failure should not run")
	}
}
