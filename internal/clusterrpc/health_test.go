package clusterrpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestHealthMonitorMarksHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	}))
	defer server.Close()

	reg := NewRegistry([]WorkerInfo{{Name: "w1", Addr: server.Listener.Addr().String()}})
	hm := NewHealthMonitor(reg, 20*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { hm.Run(ctx); close(done) }()

	waitFor(t, func() bool {
		w, _ := reg.Lookup("w1")
		return w.Status == "healthy"
	})

	cancel()
	<-done
}

func TestHealthMonitorMarksUnhealthyAfterFailures(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	reg := NewRegistry([]WorkerInfo{{Name: "w1", Addr: server.Listener.Addr().String()}})
	hm := NewHealthMonitor(reg, 5*time.Millisecond, zap.NewNop())

	unhealthy := make(chan string, 1)
	hm.SetOnUnhealthy(func(name string) { unhealthy <- name })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { hm.Run(ctx); close(done) }()

	select {
	case name := <-unhealthy:
		if name != "w1" {
			t.Fatalf("expected w1 reported unhealthy, got %s", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for onUnhealthy callback")
	}

	cancel()
	<-done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
