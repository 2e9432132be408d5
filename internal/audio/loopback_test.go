package audio

import (
	"context"
	"testing"
	"time"
)

func TestLoopbackDevicePlayAndCapture(t *testing.T) {
	dev := NewLoopbackDevice()
	defer dev.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	samples, err := dev.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	wave := make([]float32, ChunkSamples*2+10)
	for i := range wave {
		wave[i] = float32(i) * 0.001
	}
	if err := dev.Play(wave); err != nil {
		t.Fatalf("Play: %v", err)
	}

	var got []float32
	for i := 0; i < 3; i++ {
		select {
		case chunk := <-samples:
			got = append(got, chunk...)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for chunk %d", i)
		}
	}
	if len(got) != ChunkSamples*3 {
		t.Fatalf("got %d samples, want %d", len(got), ChunkSamples*3)
	}
	for i, v := range wave {
		if got[i] != v {
			t.Fatalf("sample %d: got %f, want %f", i, got[i], v)
		}
	}
}
