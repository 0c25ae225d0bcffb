package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// stub is a scriptable Provider for registry tests.
type stub struct {
	name string

	health    Health
	healthErr error
	probeWait time.Duration

	val      string
	hasData  bool
	fetchErr error

	fetchCalls atomic.Int32
	probeCalls atomic.Int32
}

func (s *stub) Name() string { return s.name }

func (s *stub) HealthCheck(ctx context.Context) (Health, error) {
	s.probeCalls.Add(1)
	if s.probeWait > 0 {
		select {
		case <-time.After(s.probeWait):
		case <-ctx.Done():
			return Health{}, ctx.Err()
		}
	}
	return s.health, s.healthErr
}

func (s *stub) Fetch(ctx context.Context, key string) (string, bool, error) {
	s.fetchCalls.Add(1)
	return s.val, s.hasData, s.fetchErr
}

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistry_Empty(t *testing.T) {
	t.Parallel()

	r := NewRegistry[string, string](quietLog())
	_, _, err := r.Fetch(context.Background(), "k")
	if !errors.Is(err, ErrNoProviders) {
		t.Fatalf("err = %v, want ErrNoProviders", err)
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistry_FailoverSkipsDown(t *testing.T) {
	t.Parallel()

	down := &stub{name: "moralis", health: Down("maintenance")}
	up := &stub{name: "pinax", health: Up(), val: "v", hasData: true}
	r := NewRegistry[string, string](quietLog(), down, up)

	val, ok, err := r.Fetch(context.Background(), "k")
	if err != nil || !ok || val != "v" {
		t.Fatalf("Fetch = (%q, %v, %v), want (v, true, nil)", val, ok, err)
	}
	if n := down.fetchCalls.Load(); n != 0 {
		t.Fatalf("down provider fetched %d times, want 0", n)
	}
}

func TestRegistry_ShortCircuitOnData(t *testing.T) {
	t.Parallel()

	first := &stub{name: "moralis", health: Up(), val: "v", hasData: true}
	second := &stub{name: "pinax", health: Up(), val: "other", hasData: true}
	r := NewRegistry[string, string](quietLog(), first, second)

	val, ok, err := r.Fetch(context.Background(), "k")
	if err != nil || !ok || val != "v" {
		t.Fatalf("Fetch = (%q, %v, %v), want first provider's value", val, ok, err)
	}
	if n := second.probeCalls.Load(); n != 0 {
		t.Fatalf("second provider probed %d times after short-circuit, want 0", n)
	}
}

func TestRegistry_NoDataContinues(t *testing.T) {
	t.Parallel()

	first := &stub{name: "moralis", health: Up()} // confirms absence
	second := &stub{name: "pinax", health: Up(), val: "v", hasData: true}
	r := NewRegistry[string, string](quietLog(), first, second)

	val, ok, err := r.Fetch(context.Background(), "k")
	if err != nil || !ok || val != "v" {
		t.Fatalf("Fetch = (%q, %v, %v), want second provider's value", val, ok, err)
	}
}

func TestRegistry_AllNoData(t *testing.T) {
	t.Parallel()

	r := NewRegistry[string, string](quietLog(),
		&stub{name: "moralis", health: Up()},
		&stub{name: "pinax", health: Degraded("rate limited")},
	)

	_, ok, err := r.Fetch(context.Background(), "k")
	if err != nil {
		t.Fatalf("Fetch err = %v, want nil", err)
	}
	if ok {
		t.Fatal("ok = true, want confirmed no-data")
	}
}

func TestRegistry_DegradedIsTried(t *testing.T) {
	t.Parallel()

	p := &stub{name: "moralis", health: Degraded("rate limited"), val: "v", hasData: true}
	r := NewRegistry[string, string](quietLog(), p)

	val, ok, err := r.Fetch(context.Background(), "k")
	if err != nil || !ok || val != "v" {
		t.Fatalf("Fetch = (%q, %v, %v), want degraded provider tried", val, ok, err)
	}
}

func TestRegistry_AllFailedAggregation(t *testing.T) {
	t.Parallel()

	r := NewRegistry[string, string](quietLog(),
		&stub{name: "moralis", health: Up(), fetchErr: errors.New("rate limited")},
		&stub{name: "pinax", health: Up(), fetchErr: errors.New("timeout")},
	)

	_, _, err := r.Fetch(context.Background(), "k")
	var all *AllFailedError
	if !errors.As(err, &all) {
		t.Fatalf("err = %v, want AllFailedError", err)
	}
	msg := all.Error()
	for _, want := range []string{"moralis", "rate limited", "pinax", "timeout"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}
}

// A recorded failure dominates a sibling's confirmed no-data.
func TestRegistry_ErrorOutranksNoData(t *testing.T) {
	t.Parallel()

	r := NewRegistry[string, string](quietLog(),
		&stub{name: "moralis", health: Up()}, // no data
		&stub{name: "pinax", health: Up(), fetchErr: errors.New("boom")},
	)

	_, _, err := r.Fetch(context.Background(), "k")
	var all *AllFailedError
	if !errors.As(err, &all) {
		t.Fatalf("err = %v, want AllFailedError", err)
	}
}

func TestRegistry_HealthCheckErrorRecorded(t *testing.T) {
	t.Parallel()

	r := NewRegistry[string, string](quietLog(),
		&stub{name: "moralis", healthErr: errors.New("conn refused")},
	)

	_, _, err := r.Fetch(context.Background(), "k")
	var all *AllFailedError
	if !errors.As(err, &all) {
		t.Fatalf("err = %v, want AllFailedError", err)
	}
	if !strings.Contains(all.Error(), "health check failed") {
		t.Fatalf("error %q missing probe failure tag", all.Error())
	}
}

func TestRegistry_AllDown(t *testing.T) {
	t.Parallel()

	first := &stub{name: "moralis", health: Down("maintenance")}
	second := &stub{name: "pinax", health: Down("outage")}
	r := NewRegistry[string, string](quietLog(), first, second)

	_, _, err := r.Fetch(context.Background(), "k")
	if !errors.Is(err, ErrNoHealthyProviders) {
		t.Fatalf("err = %v, want ErrNoHealthyProviders", err)
	}
	if first.fetchCalls.Load() != 0 || second.fetchCalls.Load() != 0 {
		t.Fatal("fetch attempted against Down providers")
	}
}

func TestRegistry_OverallHealthConcurrent(t *testing.T) {
	t.Parallel()

	const wait = 60 * time.Millisecond
	r := NewRegistry[string, string](quietLog(),
		&stub{name: "moralis", health: Up(), probeWait: wait},
		&stub{name: "pinax", health: Degraded("rate limited"), probeWait: wait},
		&stub{name: "openai", healthErr: errors.New("conn refused"), probeWait: wait},
	)

	start := time.Now()
	got := r.OverallHealth(context.Background())
	elapsed := time.Since(start)

	// Sequential probing would take ~3*wait; concurrent is ~wait.
	if elapsed >= 2*wait {
		t.Fatalf("probes took %v, want concurrent (< %v)", elapsed, 2*wait)
	}
	if len(got) != 3 {
		t.Fatalf("health map has %d entries, want 3", len(got))
	}
	if got["moralis"].Status != StatusUp {
		t.Errorf("moralis = %+v, want up", got["moralis"])
	}
	if got["pinax"].Status != StatusDegraded || got["pinax"].Reason != "rate limited" {
		t.Errorf("pinax = %+v, want degraded(rate limited)", got["pinax"])
	}
	if got["openai"].Status != StatusDown ||
		!strings.Contains(got["openai"].Reason, "health check failed") {
		t.Errorf("openai = %+v, want down with probe failure reason", got["openai"])
	}
}

func TestRegistry_FetchWithSource(t *testing.T) {
	t.Parallel()

	// Data: attributed to the provider that returned it.
	r := NewRegistry[string, string](quietLog(),
		&stub{name: "moralis", health: Up()}, // confirms absence
		&stub{name: "pinax", health: Up(), val: "v", hasData: true},
	)
	_, src, ok, err := r.FetchWithSource(context.Background(), "k")
	if err != nil || !ok || src != "pinax" {
		t.Fatalf("FetchWithSource = (src=%q, %v, %v), want (pinax, true, nil)", src, ok, err)
	}

	// All no-data: attributed to the first provider confirming absence.
	r = NewRegistry[string, string](quietLog(),
		&stub{name: "moralis", health: Up()},
		&stub{name: "pinax", health: Up()},
	)
	_, src, ok, err = r.FetchWithSource(context.Background(), "k")
	if err != nil || ok || src != "moralis" {
		t.Fatalf("FetchWithSource = (src=%q, %v, %v), want (moralis, false, nil)", src, ok, err)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()

	r := NewRegistry[string, string](quietLog(),
		&stub{name: "moralis"},
		&stub{name: "pinax"},
	)
	got := r.Names()
	if len(got) != 2 || got[0] != "moralis" || got[1] != "pinax" {
		t.Fatalf("Names() = %v, want priority order [moralis pinax]", got)
	}
}

func TestHealth_Available(t *testing.T) {
	t.Parallel()

	cases := []struct {
		h    Health
		want bool
	}{
		{Up(), true},
		{Degraded("rate limited"), true},
		{Down("outage"), false},
	}
	for _, tc := range cases {
		if got := tc.h.Available(); got != tc.want {
			t.Errorf("Available(%v) = %v, want %v", tc.h.Status, got, tc.want)
		}
	}
}
