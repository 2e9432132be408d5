package mac

import "testing"

func newTestController() *Controller {
	// seen/remember only touch dedup bookkeeping, not the PHY/audio
	// fields, so a zero-value-adjacent controller is enough to exercise
	// them in isolation.
	c := &Controller{dedup: make(map[byte][]byte)}
	return c
}

func TestDedupWindowRemembersAndForgets(t *testing.T) {
	c := newTestController()

	if c.seen(1, 5) {
		t.Fatal("frame should not be seen before it is remembered")
	}
	c.remember(1, 5)
	if !c.seen(1, 5) {
		t.Fatal("frame should be seen after it is remembered")
	}
	if c.seen(2, 5) {
		t.Fatal("dedup window must be keyed per source, not global")
	}
}

func TestDedupWindowEvictsOldestBeyondCapacity(t *testing.T) {
	c := newTestController()

	for id := byte(0); id < dedupWindowSize+2; id++ {
		c.remember(7, id)
	}
	if c.seen(7, 0) {
		t.Fatal("oldest frame_id should have been evicted from the window")
	}
	if c.seen(7, 1) {
		t.Fatal("second-oldest frame_id should have been evicted from the window")
	}
	if !c.seen(7, dedupWindowSize+1) {
		t.Fatal("most recent frame_id must still be remembered")
	}
}
