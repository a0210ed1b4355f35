package vm

import "testing"

func TestTimersKeepTickOrder(t *testing.T) {
	v := newBareVM(t)
	a := instance(t, v, v.Memory.Classes.Semaphore)
	b := instance(t, v, v.Memory.Classes.Semaphore)
	c := instance(t, v, v.Memory.Classes.Semaphore)

	v.scheduleTimer(a, 30)
	v.scheduleTimer(b, 10)
	v.scheduleTimer(c, 10)
	want := []Value{b, c, a}
	for i, tm := range v.timers {
		if tm.semaphore != want[i] {
			t.Fatalf("timer %d signals %s, want %s", i, tm.semaphore, want[i])
		}
	}

	// Re-arming a semaphore moves its timer.
	v.scheduleTimer(b, 50)
	if n := v.PendingTimers(); n != 3 {
		t.Fatalf("%d timers after re-arming, want 3", n)
	}
	if last := v.timers[2]; last.semaphore != b || last.tick != 50 {
		t.Errorf("last timer = %v", last)
	}
}

func TestFireTimersSignalsDueSemaphores(t *testing.T) {
	v := newBareVM(t)
	due := instance(t, v, v.Memory.Classes.Semaphore)
	later := instance(t, v, v.Memory.Classes.Semaphore)
	v.scheduleTimer(due, -1)
	v.scheduleTimer(later, v.millisecondClock()+60_000)

	v.fireTimers()
	if n := v.PendingTimers(); n != 1 {
		t.Fatalf("%d timers pending, want 1", n)
	}
	if got := v.slots(due)[semaphoreExcessSignals]; got != FromSmallInt(1) {
		t.Errorf("due semaphore has %s excess signals", got)
	}
	if got := v.slots(later)[semaphoreExcessSignals]; got == FromSmallInt(1) {
		t.Errorf("later semaphore was signalled")
	}

	// Armed semaphores survive a collection.
	v.CollectGarbage()
	if v.Memory.ClassOf(later) != v.Memory.Classes.Semaphore {
		t.Errorf("armed semaphore was reclaimed")
	}
}
