package autoscaler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/snarg/callscribe/internal/broker"
)

func TestNeededScalesUpOnHighIngress(t *testing.T) {
	got := needed(broker.Stats{ConsumerCount: 2, Depth: 5, EgressRate: 1}, 0.5)
	if got != 3 {
		t.Errorf("needed = %d, want 3", got)
	}
}

func TestNeededScalesUpWithNoConsumers(t *testing.T) {
	got := needed(broker.Stats{ConsumerCount: 0, Depth: 0}, 0)
	if got != 1 {
		t.Errorf("needed = %d, want 1", got)
	}
}

func TestNeededScalesUpOnDeepBacklogSlowDrain(t *testing.T) {
	// depth 500, egress 2/s across 2 consumers -> 1/s/consumer -> 500s to drain, > 120s
	got := needed(broker.Stats{ConsumerCount: 2, Depth: 500, EgressRate: 2}, 0)
	if got != 3 {
		t.Errorf("needed = %d, want 3", got)
	}
}

func TestNeededHoldsOnDeepBacklogFastDrain(t *testing.T) {
	// depth 500, egress 20/s across 2 consumers -> 10/s/consumer -> 50s to drain, <= 120s
	got := needed(broker.Stats{ConsumerCount: 2, Depth: 500, EgressRate: 20}, 0)
	if got != 2 {
		t.Errorf("needed = %d, want 2", got)
	}
}

func TestNeededScalesDownOnDrainingQueue(t *testing.T) {
	got := needed(broker.Stats{ConsumerCount: 3, Depth: 2}, -0.6)
	if got != 2 {
		t.Errorf("needed = %d, want 2", got)
	}
}

func TestNeededHoldsSteadyState(t *testing.T) {
	got := needed(broker.Stats{ConsumerCount: 3, Depth: 50}, 0.1)
	if got != 3 {
		t.Errorf("needed = %d, want 3", got)
	}
}

// fakeBroker is a minimal broker.Broker double returning canned stats.
type fakeBroker struct {
	stats broker.Stats
}

func (f *fakeBroker) Publish(ctx context.Context, subject string, data []byte) error { return nil }
func (f *fakeBroker) Consume(ctx context.Context, subject string, handler broker.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}
func (f *fakeBroker) Stats(ctx context.Context, subject string) (broker.Stats, error) {
	return f.stats, nil
}
func (f *fakeBroker) Close() error { return nil }

// fakeVendor is a minimal stand-in for the marketplace REST API,
// serving one offer and tracking create/delete calls so MaybeScale's
// end-to-end behavior can be asserted without a live vendor.
type fakeVendor struct {
	offers    []Offer
	instances []Instance
	creates   int
	deletes   []int64
}

func newFakeVendor() *fakeVendor {
	return &fakeVendor{
		offers: []Offer{
			{ID: 1, MachineID: 10, HostID: 20, GPUName: "RTX 4090", GPURAM: 24 * 1024, NumGPUs: 1, DPHTotal: 0.05},
		},
	}
}

func (v *fakeVendor) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/bundles/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"offers": v.offers})
	})
	mux.HandleFunc("/instances/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"instances": v.instances})
	})
	mux.HandleFunc("/asks/1/", func(w http.ResponseWriter, r *http.Request) {
		v.creates++
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func TestMaybeScaleScalesUpWhenBelowMin(t *testing.T) {
	vendor := newFakeVendor()
	srv := httptest.NewServer(vendor.handler())
	t.Cleanup(srv.Close)

	market := NewMarketplace(srv.URL, "test-key")
	forbidden, err := LoadForbiddenSet("", zerolog.Nop())
	if err != nil {
		t.Fatalf("LoadForbiddenSet: %v", err)
	}

	a := New(Config{
		Min: 2, Max: 5,
		Model: "medium.en", Implementation: "faster-whisper", CUDAFloor: "11.7",
		Image:     "ghcr.io/example/worker:main",
		GitCommit: "abc1234",
		BaseEnv:   map[string]string{"CELERY_BROKER_URL": "nats://broker:4222"},
		BrokerURL: "nats://broker:4222",
	}, &fakeBroker{stats: broker.Stats{ConsumerCount: 0, Depth: 0}}, market, forbidden, zerolog.Nop())

	created, err := a.MaybeScale(context.Background())
	if err != nil {
		t.Fatalf("MaybeScale: %v", err)
	}
	if created != 1 {
		t.Errorf("created = %d, want 1 (scaling from 0 up toward min 2, one offer available)", created)
	}
	if vendor.creates != 1 {
		t.Errorf("vendor saw %d create calls, want 1", vendor.creates)
	}
}

func TestVRAMRequiredAppliesImplementationFactor(t *testing.T) {
	got, err := VRAMRequired("medium.en", "faster-whisper")
	if err != nil {
		t.Fatalf("VRAMRequired: %v", err)
	}
	want := 6.5 * 1024 * 0.4
	if got != want {
		t.Errorf("VRAMRequired = %v, want %v", got, want)
	}
}

func TestVRAMRequiredUnknownImplementationDefaultsToFullFactor(t *testing.T) {
	got, err := VRAMRequired("large-v3", "some-future-fork")
	if err != nil {
		t.Fatalf("VRAMRequired: %v", err)
	}
	if got != 12*1024 {
		t.Errorf("VRAMRequired = %v, want %v", got, 12*1024.0)
	}
}

func TestVRAMRequiredUnknownModelErrors(t *testing.T) {
	if _, err := VRAMRequired("nonexistent", "faster-whisper"); err == nil {
		t.Error("expected an error for an unknown model")
	}
}
