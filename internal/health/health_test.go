package health

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected 0 statuses, got %d", len(statuses))
	}
}

func TestRegistryAllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("rpc", func(_ context.Context) Status {
		return OK()
	})
	r.Register("database", func(_ context.Context) Status {
		return OK()
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("all-healthy registry should report healthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0].Name != "rpc" || statuses[1].Name != "database" {
		t.Fatalf("expected names stamped in registration order, got %+v", statuses)
	}
}

func TestRegistryOneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("rpc", func(_ context.Context) Status {
		return OK()
	})
	r.Register("database", func(_ context.Context) Status {
		return Fail("connection refused")
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("registry with failing probe should report unhealthy")
	}
	if statuses[1].Detail != "connection refused" {
		t.Fatalf("expected detail 'connection refused', got %q", statuses[1].Detail)
	}
}

func TestRegistryProbeTimeout(t *testing.T) {
	r := NewRegistry()
	r.SetTimeout(20 * time.Millisecond)
	r.Register("rpc", func(ctx context.Context) Status {
		select {
		case <-ctx.Done():
			return Fail(ctx.Err().Error())
		case <-time.After(5 * time.Second):
			return OK()
		}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("timed-out probe should report unhealthy")
	}
	if statuses[0].Name != "rpc" {
		t.Fatalf("expected name rpc, got %q", statuses[0].Name)
	}
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register("probe", func(_ context.Context) Status {
				return OK()
			})
		}()
	}

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}

	wg.Wait()
}
