package canvas

import (
	"sync"
	"testing"
)

func TestLockTable_FirstRequestWins(t *testing.T) {
	lt := NewLockTable()

	granted, _ := lt.TryAcquire("L1", "sessA")
	if !granted {
		t.Fatalf("TryAcquire(sessA) denied, want granted")
	}

	granted, holder := lt.TryAcquire("L1", "sessB")
	if granted {
		t.Fatalf("TryAcquire(sessB) granted, want denied")
	}
	if holder != "sessA" {
		t.Fatalf("holder = %s, want sessA", holder)
	}
}

func TestLockTable_ReacquireOwnLockIsIdempotent(t *testing.T) {
	lt := NewLockTable()
	lt.TryAcquire("L1", "sessA")

	granted, holder := lt.TryAcquire("L1", "sessA")
	if !granted || holder != "sessA" {
		t.Fatalf("TryAcquire(own lock) = (%v, %s), want (true, sessA)", granted, holder)
	}
}

func TestLockTable_ReleaseByNonHolderIsNoop(t *testing.T) {
	lt := NewLockTable()
	lt.TryAcquire("L1", "sessA")

	if released := lt.Release("L1", "sessB"); released {
		t.Fatalf("Release(non-holder) = true, want false")
	}
	if holder, ok := lt.Holder("L1"); !ok || holder != "sessA" {
		t.Fatalf("Holder() = (%s, %v), want (sessA, true)", holder, ok)
	}
}

func TestLockTable_ReleaseThenReacquire(t *testing.T) {
	lt := NewLockTable()
	lt.TryAcquire("L1", "sessA")
	lt.Release("L1", "sessA")

	granted, _ := lt.TryAcquire("L1", "sessB")
	if !granted {
		t.Fatalf("TryAcquire after release denied, want granted")
	}
}

func TestLockTable_ReleaseAllFreesEverything(t *testing.T) {
	lt := NewLockTable()
	lt.TryAcquire("a", "sessA")
	lt.TryAcquire("b", "sessA")
	lt.TryAcquire("c", "sessB")

	released := lt.ReleaseAll("sessA")
	if len(released) != 2 {
		t.Fatalf("ReleaseAll() released %d locks, want 2", len(released))
	}

	// 断连后其他会话的 select 必须成功
	if granted, _ := lt.TryAcquire("a", "sessC"); !granted {
		t.Fatalf("TryAcquire(a) after ReleaseAll denied, want granted")
	}
	if holder, ok := lt.Holder("c"); !ok || holder != "sessB" {
		t.Fatalf("unrelated lock lost: Holder(c) = (%s, %v)", holder, ok)
	}
}

// 互斥性：同一个空闲组件上的并发 select，恰好一个成功
func TestLockTable_ConcurrentAcquireExactlyOneWinner(t *testing.T) {
	for round := 0; round < 50; round++ {
		lt := NewLockTable()
		const sessions = 8

		var wg sync.WaitGroup
		results := make([]bool, sessions)
		for i := 0; i < sessions; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				granted, _ := lt.TryAcquire("L1", string(rune('a'+i)))
				results[i] = granted
			}(i)
		}
		wg.Wait()

		winners := 0
		for _, granted := range results {
			if granted {
				winners++
			}
		}
		if winners != 1 {
			t.Fatalf("round %d: %d winners, want exactly 1", round, winners)
		}
	}
}
