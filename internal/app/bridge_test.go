package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/huey/internal/config"
	"github.com/dokzlo13/huey/internal/db"
	"github.com/dokzlo13/huey/internal/hue"
	"github.com/dokzlo13/huey/internal/ledger"
	"github.com/dokzlo13/huey/internal/storage"
)

const testKey = "test-app-key"

type fakeLight struct {
	ID      string
	Name    string
	On      bool
	Bri     float64
	MinDim  float64
	X, Y    float64
	FailPut bool
	NoColor bool // listed without a color block, like a plug
}

// fakeBridge serves just enough of the pairing and CLIP v2 endpoints to drive
// the service end to end.
type fakeBridge struct {
	mu           sync.Mutex
	lights       map[string]*fakeLight
	linkPresses  int // pairing attempts answered with error 101 before success
	pairCalls    int
	puts         []string
	onPairCalled func()
}

func newFakeBridge(lights ...*fakeLight) *fakeBridge {
	b := &fakeBridge{lights: make(map[string]*fakeLight)}
	for _, l := range lights {
		b.lights[l.ID] = l
	}
	return b
}

func (b *fakeBridge) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /discovery", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{"id":"001788fffe000000","internalipaddress":%q,"port":443}]`, r.Host)
	})

	mux.HandleFunc("POST /api", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.pairCalls++
		pressed := b.pairCalls > b.linkPresses
		hook := b.onPairCalled
		b.mu.Unlock()

		if hook != nil {
			hook()
		}
		if !pressed {
			fmt.Fprint(w, `[{"error":{"type":101,"address":"","description":"link button not pressed"}}]`)
			return
		}
		fmt.Fprintf(w, `[{"success":{"username":%q}}]`, testKey)
	})

	mux.HandleFunc("GET /clip/v2/resource/light", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("hue-application-key") != testKey {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"errors":[{"description":"unauthorized user"}],"data":[]}`)
			return
		}

		b.mu.Lock()
		defer b.mu.Unlock()

		data := make([]map[string]any, 0, len(b.lights))
		for _, l := range b.lights {
			entry := map[string]any{
				"id":       l.ID,
				"type":     "light",
				"metadata": map[string]any{"name": l.Name},
				"on":       map[string]any{"on": l.On},
				"dimming":  map[string]any{"brightness": l.Bri, "min_dim_level": l.MinDim},
			}
			if !l.NoColor {
				entry["color"] = map[string]any{"xy": map[string]any{"x": l.X, "y": l.Y}}
			}
			data = append(data, entry)
		}
		json.NewEncoder(w).Encode(map[string]any{"errors": []any{}, "data": data})
	})

	mux.HandleFunc("PUT /clip/v2/resource/light/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			On      *struct{ On bool }                   `json:"on"`
			Dimming *struct{ Brightness float64 }        `json:"dimming"`
			Color   *struct{ XY struct{ X, Y float64 } } `json:"color"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"errors":[{"description":"invalid body"}],"data":[]}`)
			return
		}

		b.mu.Lock()
		defer b.mu.Unlock()

		id := r.PathValue("id")
		b.puts = append(b.puts, id)
		l, ok := b.lights[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"errors":[{"description":"resource not found"}],"data":[]}`)
			return
		}
		if l.FailPut {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, "device unreachable")
			return
		}

		if body.On != nil {
			l.On = body.On.On
		}
		if body.Dimming != nil {
			l.Bri = body.Dimming.Brightness
		}
		if body.Color != nil {
			l.X, l.Y = body.Color.XY.X, body.Color.XY.Y
		}
		fmt.Fprintf(w, `{"errors":[],"data":[{"rid":%q,"rtype":"light"}]}`, id)
	})

	return mux
}

func (b *fakeBridge) light(id string) fakeLight {
	b.mu.Lock()
	defer b.mu.Unlock()
	return *b.lights[id]
}

func (b *fakeBridge) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pairCalls
}

func (b *fakeBridge) putIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := append([]string(nil), b.puts...)
	sort.Strings(ids)
	return ids
}

type testEnv struct {
	svc     *HueService
	cfg     *config.Config
	ledger  *ledger.Ledger
	address string
}

// newTestEnv wires a HueService against bridge and a temp-dir database.
// Pairing waits are shortened so retries finish quickly.
func newTestEnv(t *testing.T, bridge *fakeBridge) *testEnv {
	t.Helper()

	srv := httptest.NewTLSServer(bridge.handler())
	t.Cleanup(srv.Close)

	cfg, err := config.Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Hue.PairInterval = config.Duration(time.Millisecond)
	cfg.Hue.RateLimitRPS = 0

	database, err := db.Open(filepath.Join(t.TempDir(), "huey.sqlite"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	l := ledger.New(database.DB)
	client := hue.NewClient(hue.Config{
		DiscoveryURL: srv.URL + "/discovery",
		HTTPClient:   srv.Client(),
	})
	svc := NewHueService(cfg, client, storage.NewRegistry(storage.NewStore(database.DB)), l)

	return &testEnv{
		svc:     svc,
		cfg:     cfg,
		ledger:  l,
		address: srv.Listener.Addr().String(),
	}
}

// paired stores a valid endpoint for the fake bridge.
func (e *testEnv) paired(t *testing.T) hue.Endpoint {
	t.Helper()
	ep := hue.NewEndpoint(e.address, testKey)
	if err := e.svc.registry.SaveEndpoint(ep); err != nil {
		t.Fatal(err)
	}
	return ep
}
