package co

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWaitGroup(t *testing.T) {
	r := require.New(t)

	var wg WaitGroup
	var n atomic.Int32
	const k = 8
	wg.Add(k)
	for i := 0; i < k; i++ {
		Go(func() {
			Sleep(1)
			n.Add(1)
			wg.Done()
		})
	}

	done := make(chan int32)
	Go(func() {
		wg.Wait()
		done <- n.Load()
	})
	r.Equal(int32(k), <-done)
}

func TestWaitGroupZero(t *testing.T) {
	done := make(chan struct{})
	Go(func() {
		var wg WaitGroup
		wg.Wait()
		close(done)
	})
	<-done
}

func TestErrGroup(t *testing.T) {
	r := require.New(t)

	boom := errors.New("boom")
	res := make(chan error)
	Go(func() {
		var g ErrGroup
		g.Go(func() error { Sleep(1); return nil })
		g.Go(func() error { return boom })
		g.Go(func() error { Sleep(20); return errors.New("late") })
		res <- g.Wait()
	})
	r.Equal(boom, <-res)
}

func TestSingleFlight(t *testing.T) {
	r := require.New(t)

	var sf SingleFlight
	var calls atomic.Int32
	const k = 5
	res := make(chan any, k)
	for i := 0; i < k; i++ {
		Go(func() {
			v, err, _ := sf.Do("key", func() (any, error) {
				calls.Add(1)
				Sleep(50)
				return "value", nil
			})
			r.NoError(err)
			res <- v
		})
	}
	for i := 0; i < k; i++ {
		r.Equal("value", <-res)
	}
	r.Equal(int32(1), calls.Load())
}
