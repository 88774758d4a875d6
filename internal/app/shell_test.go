package app

import (
	"bytes"
	"context"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/dokzlo13/huey/internal/color"
	"github.com/dokzlo13/huey/internal/ledger"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestShell_Session(t *testing.T) {
	bridge := newFakeBridge(
		&fakeLight{ID: "l1", Name: "Desk", Bri: 10, MinDim: 2},
		&fakeLight{ID: "l2", Name: "Porch", Bri: 10, MinDim: 2, FailPut: true},
	)
	env := newTestEnv(t, bridge)
	ep := env.paired(t)

	script := strings.Join([]string{
		"list",
		"color desk #ff0000 50",
		"toggle desk",
		"toggle desk",
		"dim desk 500",
		"on porch",
		"bogus",
		"wait",
		"list",
		"quit",
		"on desk", // never reached
	}, "\n")

	var out syncBuffer
	sh := NewShell(env.svc, ep, strings.NewReader(script), &out)
	if err := sh.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	desk := bridge.light("l1")
	red := color.RGBToXY(color.RGB{R: 1})
	if desk.On {
		t.Error("two toggles should leave the desk off")
	}
	if desk.Bri != 50 {
		t.Errorf("desk brightness = %v, want 50", desk.Bri)
	}
	if math.Abs(desk.X-red.X) > 1e-9 || math.Abs(desk.Y-red.Y) > 1e-9 {
		t.Errorf("desk xy = (%v, %v), want (%v, %v)", desk.X, desk.Y, red.X, red.Y)
	}

	text := out.String()
	for _, want := range []string{
		"2 lights",
		"out of range, not sent: dimming",
		"failed l2",
		`unknown command "bogus"`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}

	// After "wait" nothing is pending and the failed porch change is reverted.
	lines := strings.Split(strings.TrimSpace(text), "\n")
	last := lines[len(lines)-2:]
	for _, line := range last {
		if strings.HasPrefix(line, "*") {
			t.Errorf("pending marker after wait: %q", line)
		}
	}
	if !strings.Contains(last[1], "Porch") || !strings.Contains(last[1], " off ") {
		t.Errorf("porch row = %q, want off", last[1])
	}

	entries, _ := env.ledger.Recent(50)
	var failed int
	for _, e := range entries {
		if e.Source != SourceShell {
			t.Errorf("entry source = %q, want shell", e.Source)
		}
		if e.EventType == ledger.EventTxFailed {
			failed++
		}
	}
	if failed != 1 || len(entries) < 2 {
		t.Errorf("history = %d entries with %d failures", len(entries), failed)
	}
}

func TestShell_EndOfInputSettles(t *testing.T) {
	bridge := newFakeBridge(&fakeLight{ID: "l1", Name: "Desk", MinDim: 2})
	env := newTestEnv(t, bridge)
	ep := env.paired(t)

	var out syncBuffer
	sh := NewShell(env.svc, ep, strings.NewReader("on l1\n"), &out)
	if err := sh.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !bridge.light("l1").On {
		t.Error("change queued before end of input was not applied")
	}
}
