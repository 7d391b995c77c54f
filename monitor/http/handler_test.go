package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/soniq/cascade"
	"github.com/soniq/cascade/coordinator"
)

func newTestHandler(t *testing.T) (*Handler, *cascade.Bus) {
	t.Helper()
	bus := cascade.New(
		cascade.WithName("test"),
		cascade.WithTracing(false),
		cascade.WithMetrics(false),
		cascade.WithSweeper(false),
	)
	t.Cleanup(func() { bus.Close(context.Background()) })
	return New(bus), bus
}

func get(t *testing.T, h *Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSnapshotRoute(t *testing.T) {
	h, bus := newTestHandler(t)
	ctx := context.Background()

	counting := cascade.NewCountingHandler()
	bus.Subscribe(cascade.KindBeat, counting.Handle, "renderer")
	bus.Emit(ctx, cascade.BeatPayload{BPM: 128})

	rec := get(t, h, "/v1/bus/snapshot")
	if rec.Code != http.StatusOK {
		t.Fatalf("status got:%d, expected:200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type got:%s, expected:application/json", ct)
	}

	var resp struct {
		Bus                 string `json:"bus"`
		TotalEvents         uint64 `json:"total_events"`
		ActiveSubscriptions int    `json:"active_subscriptions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Bus != "test" {
		t.Errorf("bus got:%s, expected:test", resp.Bus)
	}
	if resp.TotalEvents != 1 {
		t.Errorf("total events got:%d, expected:1", resp.TotalEvents)
	}
	if resp.ActiveSubscriptions != 1 {
		t.Errorf("active subscriptions got:%d, expected:1", resp.ActiveSubscriptions)
	}
}

func TestSubscriptionsRoutes(t *testing.T) {
	h, bus := newTestHandler(t)
	ctx := context.Background()

	counting := cascade.NewCountingHandler()
	id := bus.Subscribe(cascade.KindBeat, counting.Handle, "renderer")
	bus.Emit(ctx, cascade.BeatPayload{BPM: 128})

	rec := get(t, h, "/v1/bus/subscriptions")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status got:%d, expected:200", rec.Code)
	}
	var list struct {
		Subscriptions []struct {
			ID           string `json:"id"`
			Kind         string `json:"kind"`
			Owner        string `json:"owner"`
			TriggerCount uint64 `json:"trigger_count"`
		} `json:"subscriptions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(list.Subscriptions) != 1 {
		t.Fatalf("listed %d subscriptions, expected 1", len(list.Subscriptions))
	}
	got := list.Subscriptions[0]
	if got.ID != id || got.Owner != "renderer" || got.Kind != string(cascade.KindBeat) {
		t.Errorf("subscription got:%+v", got)
	}
	if got.TriggerCount != 1 {
		t.Errorf("trigger count got:%d, expected:1", got.TriggerCount)
	}

	rec = get(t, h, "/v1/bus/subscriptions/"+id)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status got:%d, expected:200", rec.Code)
	}

	rec = get(t, h, "/v1/bus/subscriptions/nope")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing subscription status got:%d, expected:404", rec.Code)
	}
}

func TestCoordinatorsRoute(t *testing.T) {
	h, bus := newTestHandler(t)
	ctx := context.Background()

	derive := func(dctx context.Context, ev cascade.Event) (cascade.Payload, error) {
		return cascade.PalettePayload{Primary: "#101010"}, nil
	}
	c := coordinator.New("palette", bus, cascade.KindEnergy, derive)
	c.Start()
	defer c.Stop()
	h.Register(c)

	bus.Emit(ctx, cascade.EnergyPayload{Level: 0.5, Band: "low"})

	rec := get(t, h, "/v1/bus/coordinators")
	if rec.Code != http.StatusOK {
		t.Fatalf("status got:%d, expected:200", rec.Code)
	}
	var resp struct {
		Coordinators []struct {
			Name    string `json:"name"`
			State   string `json:"state"`
			Derived uint64 `json:"derived"`
		} `json:"coordinators"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(resp.Coordinators) != 1 {
		t.Fatalf("listed %d coordinators, expected 1", len(resp.Coordinators))
	}
	got := resp.Coordinators[0]
	if got.Name != "palette" || got.State != "idle" || got.Derived != 1 {
		t.Errorf("coordinator got:%+v", got)
	}
}

func TestWriteErrorEscapesMessage(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	h.writeError(rec, http.StatusBadRequest, `field "bands" is bad`)

	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("error body is not valid JSON: %v", err)
	}
	if resp.Error != `field "bands" is bad` {
		t.Errorf("error got:%q, expected the quoted message intact", resp.Error)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/bus/snapshot", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status got:%d, expected:405", rec.Code)
	}
}
