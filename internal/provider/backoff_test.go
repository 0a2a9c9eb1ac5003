package provider

import (
	"testing"
	"time"
)

func TestBackoff_DelayBounds(t *testing.T) {
	b := NewBackoffSeeded(42)

	for attempt := 0; attempt < 12; attempt++ {
		ceiling := b.Base << uint(attempt)
		if ceiling > b.Cap || ceiling <= 0 {
			ceiling = b.Cap
		}
		for i := 0; i < 100; i++ {
			d := b.Delay(attempt)
			if d < 0 || d > ceiling {
				t.Fatalf("attempt %d: delay %v outside [0, %v]", attempt, d, ceiling)
			}
		}
	}
}

func TestBackoff_CapsAtSixtySeconds(t *testing.T) {
	b := NewBackoffSeeded(7)
	for i := 0; i < 1000; i++ {
		if d := b.Delay(30); d > 60*time.Second {
			t.Fatalf("delay %v exceeds 60s cap", d)
		}
	}
}
