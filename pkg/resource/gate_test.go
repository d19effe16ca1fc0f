package resource

import (
	"context"
	"sync"
	"testing"
	"time"
)

func fakeMonitor(snap Snapshot) *Monitor {
	m := NewMonitor(time.Second)
	m.snapshot = snap
	return m
}

func TestCanStart_ThresholdsHold(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
		th   Thresholds
		kind JobKind
		want bool
	}{
		{
			name: "all under ceiling",
			snap: Snapshot{CPUPercent: 10, MemPercent: 10},
			th:   DefaultThresholds(),
			kind: JobKindExport,
			want: true,
		},
		{
			name: "cpu over ceiling",
			snap: Snapshot{CPUPercent: 95, MemPercent: 10},
			th:   DefaultThresholds(),
			kind: JobKindExport,
			want: false,
		},
		{
			name: "mem over ceiling",
			snap: Snapshot{CPUPercent: 10, MemPercent: 95},
			th:   DefaultThresholds(),
			kind: JobKindExport,
			want: false,
		},
		{
			name: "gpu over ceiling",
			snap: Snapshot{GPUs: []GPUStats{{UtilizationPercent: 99}}},
			th:   DefaultThresholds(),
			kind: JobKindExport,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(fakeMonitor(tt.snap), tt.th)
			if got := g.CanStart(tt.kind); got != tt.want {
				t.Errorf("CanStart(%v) = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
}

func TestAcquireWithTimeout_RespectsParallelExportsCap(t *testing.T) {
	g := NewGate(fakeMonitor(Snapshot{}), Thresholds{MaxParallelExports: 2})

	t1, err := g.AcquireWithTimeout(context.Background(), JobKindExport, time.Second)
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	t2, err := g.AcquireWithTimeout(context.Background(), JobKindExport, time.Second)
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}

	_, err = g.AcquireWithTimeout(context.Background(), JobKindExport, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error when at capacity")
	}
	if _, ok := err.(*ErrTimeout); !ok {
		t.Fatalf("expected ErrTimeout, got %T: %v", err, err)
	}

	t1.Release()
	t3, err := g.AcquireWithTimeout(context.Background(), JobKindExport, time.Second)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}

	t2.Release()
	t3.Release()
}

func TestTicket_DoubleReleaseIsNoOp(t *testing.T) {
	g := NewGate(fakeMonitor(Snapshot{}), Thresholds{MaxParallelExports: 1})

	ticket, err := g.AcquireWithTimeout(context.Background(), JobKindExport, time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ticket.Release()
	ticket.Release()

	g.mu.Lock()
	active := g.activeExports
	g.mu.Unlock()
	if active != 0 {
		t.Errorf("activeExports = %d after double release, want 0", active)
	}
}

func TestAcquireWithTimeout_NeverExceedsCapConcurrently(t *testing.T) {
	g := NewGate(fakeMonitor(Snapshot{}), Thresholds{MaxParallelExports: 2})

	var mu sync.Mutex
	maxObserved := 0
	current := 0

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticket, err := g.AcquireWithTimeout(context.Background(), JobKindExport, 10*time.Second)
			if err != nil {
				return
			}
			mu.Lock()
			current++
			if current > maxObserved {
				maxObserved = current
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
			ticket.Release()
		}()
	}
	wg.Wait()

	if maxObserved > 2 {
		t.Errorf("observed %d concurrent jobs, want <= 2", maxObserved)
	}
}
