package co

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGo(t *testing.T) {
	r := require.New(t)

	ch := make(chan int)
	Go(func() { ch <- 42 })
	r.Equal(42, <-ch)
}

func TestSchedulerIdentity(t *testing.T) {
	r := require.New(t)

	n := SchedulerNum()
	r.Greater(n, 0)

	ch := make(chan int)
	for i := 0; i < 2*n; i++ {
		Go(func() { ch <- SchedulerID() })
	}
	for i := 0; i < 2*n; i++ {
		id := <-ch
		r.GreaterOrEqual(id, 0)
		r.Less(id, n)
	}
}

func TestSleep(t *testing.T) {
	r := require.New(t)

	ch := make(chan time.Duration)
	Go(func() {
		start := time.Now()
		Sleep(50)
		ch <- time.Since(start)
	})
	d := <-ch
	r.GreaterOrEqual(d, 50*time.Millisecond)
	r.Less(d, 2*time.Second)
}

func TestCoroutineOnly(t *testing.T) {
	r := require.New(t)

	r.Panics(func() { SchedulerID() })
	r.Panics(func() { Sleep(1) })
}

func TestPrivateGroupStop(t *testing.T) {
	r := require.New(t)

	g := newGroup(2)
	ch := make(chan struct{})
	g.spawn(func() { close(ch) })
	<-ch
	g.stop()
	r.True(g.scheds[0].stopping.Load())
	r.True(g.scheds[1].stopping.Load())
}
