package server

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/54b3r/docqa-go/internal/resilience"
)

func TestEmbedderPinger(t *testing.T) {
	t.Parallel()

	ok := NewEmbedderPinger(func(context.Context) error { return nil })
	if ok.Name() != "embedder" {
		t.Errorf("Name: got %q", ok.Name())
	}
	if err := ok.Ping(context.Background()); err != nil {
		t.Errorf("healthy probe: %v", err)
	}

	down := errors.New("connection refused")
	bad := NewEmbedderPinger(func(context.Context) error { return down })
	if err := bad.Ping(context.Background()); !errors.Is(err, down) {
		t.Errorf("want wrapped probe error, got %v", err)
	}
}

func TestBreakerPinger(t *testing.T) {
	t.Parallel()

	cases := []struct {
		state   resilience.State
		wantErr bool
	}{
		{resilience.StateClosed, false},
		{resilience.StateHalfOpen, false},
		{resilience.StateOpen, true},
	}
	for _, tc := range cases {
		p := NewBreakerPinger("generator", func() resilience.State { return tc.state })
		err := p.Ping(context.Background())
		if (err != nil) != tc.wantErr {
			t.Errorf("state %s: err = %v, wantErr %v", tc.state, err, tc.wantErr)
		}
		if err != nil && !strings.Contains(err.Error(), "open") {
			t.Errorf("state %s: error should name the state, got %v", tc.state, err)
		}
	}
}
