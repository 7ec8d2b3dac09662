package ratelimit

import (
	"testing"
	"time"

	"callsplit/domain/core"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func TestAllow_ExhaustAndRefill(t *testing.T) {
	clock := core.NewFixedClock(t0)
	l := New(Config{BurstCapacity: 3, RefillRate: 1}, clock)

	for i := 0; i < 3; i++ {
		if st := l.Allow("line-1"); !st.Allowed {
			t.Fatalf("call %d should pass within burst, got %+v", i+1, st)
		}
	}
	if st := l.Allow("line-1"); st.Allowed {
		t.Fatalf("burst exhausted, call should be rejected")
	}

	// One token refills after a second.
	clock.Advance(time.Second)
	if st := l.Allow("line-1"); !st.Allowed {
		t.Fatalf("expected a refilled token after 1s, got %+v", st)
	}
	if st := l.Allow("line-1"); st.Allowed {
		t.Fatalf("only one token should have refilled")
	}
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	clock := core.NewFixedClock(t0)
	l := New(Config{BurstCapacity: 1, RefillRate: 1}, clock)

	if st := l.Allow("line-1"); !st.Allowed {
		t.Fatalf("first key should pass")
	}
	if st := l.Allow("line-1"); st.Allowed {
		t.Fatalf("first key exhausted")
	}
	if st := l.Allow("line-2"); !st.Allowed {
		t.Fatalf("second key has its own bucket")
	}
}

func TestApplyDownshift_HalvesRefill(t *testing.T) {
	clock := core.NewFixedClock(t0)
	l := New(Config{BurstCapacity: 1, RefillRate: 2, DownshiftFactor: 0.5}, clock)

	if st := l.Allow("line-1"); !st.Allowed {
		t.Fatalf("burst token should pass")
	}
	l.ApplyDownshift("line-1")

	// At the base rate of 2/s a half second would refill a token; downshifted
	// to 1/s it does not.
	clock.Advance(500 * time.Millisecond)
	if st := l.Allow("line-1"); st.Allowed {
		t.Fatalf("downshifted bucket refilled too fast")
	}
	clock.Advance(500 * time.Millisecond)
	if st := l.Allow("line-1"); !st.Allowed {
		t.Fatalf("expected a token after a full second at the downshifted rate")
	}
}

func TestApplyDownshift_ClampsAtFloor(t *testing.T) {
	clock := core.NewFixedClock(t0)
	l := New(Config{BurstCapacity: 1, RefillRate: 1, DownshiftFactor: 0.5}, clock)

	// Repeated downshifts bottom out instead of freezing the line entirely.
	for i := 0; i < 20; i++ {
		l.ApplyDownshift("line-1")
	}
	l.Allow("line-1")

	clock.Advance(10 * time.Second) // 10s at the 0.1/s floor refills one token
	if st := l.Allow("line-1"); !st.Allowed {
		t.Fatalf("floor rate should still refill eventually, got %+v", st)
	}
}

func TestResetRate_RestoresBase(t *testing.T) {
	clock := core.NewFixedClock(t0)
	l := New(Config{BurstCapacity: 1, RefillRate: 2, DownshiftFactor: 0.5}, clock)

	l.Allow("line-1")
	l.ApplyDownshift("line-1")
	l.ResetRate("line-1")

	clock.Advance(500 * time.Millisecond)
	if st := l.Allow("line-1"); !st.Allowed {
		t.Fatalf("reset bucket should refill at the base rate again")
	}
}

func TestPeek_DoesNotConsume(t *testing.T) {
	clock := core.NewFixedClock(t0)
	l := New(Config{BurstCapacity: 1, RefillRate: 1}, clock)

	for i := 0; i < 3; i++ {
		if st := l.Peek("line-1"); !st.Allowed {
			t.Fatalf("peek %d consumed a token", i)
		}
	}
	if st := l.Allow("line-1"); !st.Allowed {
		t.Fatalf("token should still be available after peeks")
	}
}

func TestGC_DropsIdleBuckets(t *testing.T) {
	clock := core.NewFixedClock(t0)
	l := New(Config{BurstCapacity: 1, RefillRate: 1, IdleTTL: time.Hour}, clock)

	l.Allow("stale")
	clock.Advance(2 * time.Hour)
	l.Allow("fresh")

	keys := l.Keys()
	if len(keys) != 1 || keys[0] != "fresh" {
		t.Errorf("expected only the fresh bucket to survive GC, got %v", keys)
	}
}

func TestMultiLevel_FirstBlockingScopeWins(t *testing.T) {
	clock := core.NewFixedClock(t0)
	m := NewMultiLevel(
		Config{BurstCapacity: 100, RefillRate: 100},
		Config{BurstCapacity: 1, RefillRate: 0.1},
		Config{BurstCapacity: 100, RefillRate: 100},
		clock,
	)
	keys := map[Scope]string{
		ScopeGlobal: "global",
		ScopeCLI:    "+351210000001",
		ScopeTest:   "test-1",
	}

	if st := m.Allow(keys); !st.Allowed {
		t.Fatalf("first call should pass all levels, got %+v", st)
	}
	st := m.Allow(keys)
	if st.Allowed {
		t.Fatalf("CLI bucket exhausted, expected a block")
	}
	if st.BlockedBy != ScopeCLI {
		t.Errorf("blocked by %s, want cli", st.BlockedBy)
	}
}

func TestMultiLevel_SkipsEmptyKeys(t *testing.T) {
	clock := core.NewFixedClock(t0)
	m := NewMultiLevel(
		Config{BurstCapacity: 1, RefillRate: 0.1},
		Config{BurstCapacity: 1, RefillRate: 0.1},
		Config{BurstCapacity: 1, RefillRate: 0.1},
		clock,
	)

	// Only the global scope participates; cli/test buckets stay untouched.
	keys := map[Scope]string{ScopeGlobal: "global"}
	m.Allow(keys)

	if st := m.Allow(map[Scope]string{ScopeCLI: "line-1"}); !st.Allowed {
		t.Errorf("cli bucket should be full, got %+v", st)
	}
}
