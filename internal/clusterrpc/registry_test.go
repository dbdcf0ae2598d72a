package clusterrpc

import "testing"

func TestRegistryLookupAndUpsert(t *testing.T) {
	r := NewRegistry([]WorkerInfo{{Name: "w1", Addr: "localhost:9001"}})

	w, ok := r.Lookup("w1")
	if !ok || w.Addr != "localhost:9001" {
		t.Fatalf("expected to find w1, got %+v ok=%v", w, ok)
	}

	if _, ok := r.Lookup("missing"); ok {
		t.Fatal("expected lookup of unregistered worker to fail")
	}

	r.Upsert(WorkerInfo{Name: "w2", Addr: "localhost:9002"})
	if len(r.All()) != 2 {
		t.Fatalf("expected 2 workers after upsert, got %d", len(r.All()))
	}

	r.Remove("w1")
	if _, ok := r.Lookup("w1"); ok {
		t.Fatal("expected w1 removed")
	}
	if len(r.Names()) != 1 || r.Names()[0] != "w2" {
		t.Fatalf("expected only w2 to remain, got %v", r.Names())
	}
}
