package netcard

import "testing"

func TestCompletionWaitReportsOutcome(t *testing.T) {
	c := &Completion{done: make(chan bool, 1)}
	c.done <- true
	if !c.Wait() {
		t.Fatal("expected Wait to report success")
	}

	c2 := &Completion{done: make(chan bool, 1)}
	c2.done <- false
	if c2.Wait() {
		t.Fatal("expected Wait to report failure")
	}
}
