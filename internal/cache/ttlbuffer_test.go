package cache

import (
	"testing"
	"time"
)

func withFrozenClock(t *testing.T, start time.Time) func() {
	t.Helper()
	cur := start
	nowFunc = func() time.Time { return cur }
	return func() { nowFunc = time.Now }
}

func advanceClock(t *testing.T, d time.Duration) {
	t.Helper()
	now := nowFunc()
	nowFunc = func() time.Time { return now.Add(d) }
}

func TestTTLBufferTouchFreshInsert(t *testing.T) {
	restore := withFrozenClock(t, time.Unix(1000, 0))
	defer restore()

	b := NewTTLBuffer(0)
	b.Touch(1, "h1", 20)

	e, ok := b.entries[1]
	if !ok {
		t.Fatalf("expected entry for row 1")
	}
	if e.KeyHash != "h1" || e.RawSize != 20 || e.LFU != 1 {
		t.Errorf("unexpected fresh entry: %+v", e)
	}
}

func TestTTLBufferTouchIncrementsLFUWithinEpoch(t *testing.T) {
	restore := withFrozenClock(t, time.Unix(1000, 0))
	defer restore()

	b := NewTTLBuffer(0)
	b.Touch(1, "h1", 20)
	advanceClock(t, time.Second)
	b.Touch(1, "h1", 20)
	advanceClock(t, time.Second)
	b.Touch(1, "h1", 20)

	e := b.entries[1]
	if e.LFU != 3 {
		t.Errorf("expected LFU 3 after three touches within epoch, got %d", e.LFU)
	}
}

func TestTTLBufferTouchResetsLFUAfterEpoch(t *testing.T) {
	restore := withFrozenClock(t, time.Unix(1000, 0))
	defer restore()

	b := NewTTLBuffer(0)
	b.Touch(1, "h1", 20)
	b.Touch(1, "h1", 20)
	if b.entries[1].LFU != 2 {
		t.Fatalf("expected LFU 2 before epoch elapses, got %d", b.entries[1].LFU)
	}

	advanceClock(t, lfuEpoch+time.Second)
	b.Touch(1, "h1", 20)

	if got := b.entries[1].LFU; got != 1 {
		t.Errorf("expected LFU reset to 1 after epoch lapse, got %d", got)
	}
}

func TestTTLBufferTouchSaturatesLFU(t *testing.T) {
	restore := withFrozenClock(t, time.Unix(1000, 0))
	defer restore()

	b := NewTTLBuffer(0)
	b.entries[1] = ttlEntry{KeyHash: "h1", RawSize: 20, LRU: nowFunc(), LFU: 255}
	b.Touch(1, "h1", 20)

	if got := b.entries[1].LFU; got != 255 {
		t.Errorf("expected LFU to stay saturated at 255, got %d", got)
	}
}

func TestTTLBufferTouchDroppedWhenFull(t *testing.T) {
	restore := withFrozenClock(t, time.Unix(1000, 0))
	defer restore()

	b := NewTTLBuffer(1)
	b.Touch(1, "h1", 10)
	b.Touch(2, "h2", 10)

	if b.Len() != 1 {
		t.Fatalf("expected buffer to stay at maxSize 1, got %d", b.Len())
	}
	if _, ok := b.entries[2]; ok {
		t.Errorf("expected row 2's touch to have been dropped")
	}
}

func TestTTLBufferDrain(t *testing.T) {
	restore := withFrozenClock(t, time.Unix(1000, 0))
	defer restore()

	b := NewTTLBuffer(0)
	for i := int64(1); i <= 5; i++ {
		b.Touch(i, "h", 1)
	}

	first := b.Drain(3)
	if len(first) != 3 {
		t.Fatalf("expected 3 entries drained, got %d", len(first))
	}
	if b.Len() != 2 {
		t.Fatalf("expected 2 entries left in buffer, got %d", b.Len())
	}

	rest := b.Drain(10)
	if len(rest) != 2 {
		t.Fatalf("expected remaining 2 entries drained, got %d", len(rest))
	}
	if b.Len() != 0 {
		t.Errorf("expected buffer empty after draining everything, got %d", b.Len())
	}
}

func TestTTLBufferClear(t *testing.T) {
	restore := withFrozenClock(t, time.Unix(1000, 0))
	defer restore()

	b := NewTTLBuffer(0)
	b.Touch(1, "h1", 10)
	b.Touch(2, "h2", 10)
	b.Clear()

	if b.Len() != 0 {
		t.Errorf("expected buffer empty after Clear, got %d", b.Len())
	}
}

func TestTTLBufferRemove(t *testing.T) {
	restore := withFrozenClock(t, time.Unix(1000, 0))
	defer restore()

	b := NewTTLBuffer(0)
	b.Touch(1, "h1", 10)
	b.Touch(2, "h2", 10)
	b.remove([]int64{1})

	if _, ok := b.entries[1]; ok {
		t.Errorf("expected row 1 removed")
	}
	if _, ok := b.entries[2]; !ok {
		t.Errorf("expected row 2 to remain")
	}
}
