package timeutil

import (
	"testing"
	"time"
)

func TestMockTickerAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start)
	tk := c.NewTicker(time.Second)

	c.Advance(500 * time.Millisecond)
	select {
	case <-tk.C():
		t.Fatal("ticker fired before its interval")
	default:
	}

	c.Advance(500 * time.Millisecond)
	select {
	case got := <-tk.C():
		if !got.Equal(start.Add(time.Second)) {
			t.Errorf("tick time = %v, want %v", got, start.Add(time.Second))
		}
	default:
		t.Fatal("ticker did not fire after one interval")
	}
}

func TestMockTickerStop(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	tk := c.NewTicker(time.Second)
	tk.Stop()
	c.Advance(5 * time.Second)

	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
	if !c.Tickers()[0].Stopped() {
		t.Error("Stopped() should report true")
	}
}

func TestMockTickerTriggerDropsWhenFull(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	tk := c.NewTicker(time.Second).(*MockTicker)
	tk.Trigger(time.Unix(1, 0))
	tk.Trigger(time.Unix(2, 0)) // dropped, channel holds one tick

	if got := <-tk.C(); got.Unix() != 1 {
		t.Errorf("expected first tick to survive, got %v", got)
	}
	select {
	case <-tk.C():
		t.Fatal("second tick should have been dropped")
	default:
	}
}
