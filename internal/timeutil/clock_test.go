package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestMockClockAdvance(t *testing.T) {
	c := NewMockClock(epoch)
	start := c.Now()
	c.Advance(3 * time.Second)
	assert.Equal(t, 3*time.Second, c.Since(start))
}

func TestMockClockAfter(t *testing.T) {
	c := NewMockClock(epoch)
	ch := c.After(time.Second)

	c.Advance(500 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}

	c.Advance(500 * time.Millisecond)
	select {
	case got := <-ch:
		assert.Equal(t, epoch.Add(time.Second), got)
	default:
		t.Fatal("did not fire")
	}
}

func TestMockClockAfterZero(t *testing.T) {
	c := NewMockClock(epoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("zero duration should fire immediately")
	}
}

func TestMockTicker(t *testing.T) {
	c := NewMockClock(epoch)
	tk := c.NewTicker(100 * time.Millisecond)

	c.Advance(50 * time.Millisecond)
	assert.Len(t, tk.C(), 0)
	c.Advance(50 * time.Millisecond)
	assert.Len(t, tk.C(), 1)
	<-tk.C()

	tk.Stop()
	c.Advance(time.Second)
	assert.Len(t, tk.C(), 0)
}

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	start := c.Now()
	<-c.After(time.Millisecond)
	assert.GreaterOrEqual(t, c.Since(start), time.Millisecond)
}
