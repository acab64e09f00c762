package notify

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"context"

	"github.com/rs/zerolog"

	"github.com/snarg/callscribe/internal/metadata"
)

func callFor(talkgroup int, shortName string, stopTime int64) metadata.Call {
	return metadata.Call{
		Talkgroup:  talkgroup,
		ShortName:  shortName,
		StartTime:  stopTime - 10,
		StopTime:   stopTime,
	}
}

func newTranscript(t *testing.T) *metadata.Transcript {
	t.Helper()
	tr := metadata.NewTranscript()
	tr.Append("unit on scene", nil)
	return tr
}

func TestDispatchDeliversToMatchingRoute(t *testing.T) {
	var mu sync.Mutex
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := New(Config{Routes: []Route{{Pattern: `^5210@countyso$`, URIs: []string{srv.URL}}}}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	call := callFor(5210, "countyso", time.Now().Unix())
	n.Dispatch(context.Background(), call, newTranscript(t), "https://a/a.mp3", "https://s", false)

	// Delivery happens synchronously in deliver(), so the hit is already recorded.
	mu.Lock()
	defer mu.Unlock()
	if hits != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
}

func TestDispatchSkipsNonMatchingRoute(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := New(Config{Routes: []Route{{Pattern: `^9999@other$`, URIs: []string{srv.URL}}}}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	call := callFor(5210, "countyso", time.Now().Unix())
	n.Dispatch(context.Background(), call, newTranscript(t), "", "", false)

	if hits != 0 {
		t.Errorf("hits = %d, want 0 for non-matching route", hits)
	}
}

func TestDispatchSuppressedOnRetranscribe(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := New(Config{Routes: []Route{{Pattern: `.*`, URIs: []string{srv.URL}}}}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	call := callFor(5210, "countyso", time.Now().Unix())
	n.Dispatch(context.Background(), call, newTranscript(t), "", "", true)

	if hits != 0 {
		t.Errorf("hits = %d, want 0 when isRetranscribe is true", hits)
	}
}

func TestDispatchSkipsStaleCall(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := New(Config{
		Routes:   []Route{{Pattern: `.*`, URIs: []string{srv.URL}}},
		MaxDelay: 20 * time.Minute,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	staleCall := callFor(5210, "countyso", time.Now().Add(-30*time.Minute).Unix())
	n.Dispatch(context.Background(), staleCall, newTranscript(t), "", "", false)

	if hits != 0 {
		t.Errorf("hits = %d, want 0 for a call past MaxDelay", hits)
	}
}

func TestDispatchDedupesSharedURIAcrossRoutes(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := New(Config{Routes: []Route{
		{Pattern: `^5210@countyso$`, URIs: []string{srv.URL}},
		{Pattern: `^5210@.*$`, URIs: []string{srv.URL}},
	}}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	call := callFor(5210, "countyso", time.Now().Unix())
	n.Dispatch(context.Background(), call, newTranscript(t), "", "", false)

	if hits != 1 {
		t.Errorf("hits = %d, want 1 (deduped across both matching routes)", hits)
	}
}
