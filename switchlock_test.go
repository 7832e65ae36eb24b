package await

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/pcg"
	"golang.org/x/sync/errgroup"
)

func TestSwitchLockSameSideShares(t *testing.T) {
	log.Println("============== TestSwitchLockSameSideShares ================")
	l := NewSwitchLock()

	a, err := l.LockLeft(testCtx(t))
	require.NoError(t, err)
	b, err := l.LockLeft(testCtx(t))
	require.NoError(t, err)

	assert.True(t, l.IsLeft())
	assert.False(t, l.IsRight())

	a.Release()
	b.Release()
	assert.False(t, l.IsLeft())
}

func TestSwitchLockSidesExclude(t *testing.T) {
	log.Println("============== TestSwitchLockSidesExclude ================")
	l := NewSwitchLock()

	left, err := l.LockLeft(testCtx(t))
	require.NoError(t, err)

	_, ok := l.TryLockRight()
	assert.False(t, ok)

	right := acquireAsync(l.LockRight, testCtx(t))
	waitFor(t, func() bool { return l.WaitingRight() == 1 })

	left.Release()
	g := withTimeout(t, right)
	require.NoError(t, g.err)
	assert.True(t, l.IsRight())
	assert.False(t, l.IsLeft())
	g.lease.Release()
}

func TestSwitchLockFlipsWholeSide(t *testing.T) {
	log.Println("============== TestSwitchLockFlipsWholeSide ================")
	l := NewSwitchLock()

	left, err := l.LockLeft(testCtx(t))
	require.NoError(t, err)

	first := acquireAsync(l.LockRight, testCtx(t))
	second := acquireAsync(l.LockRight, testCtx(t))
	third := acquireAsync(l.LockRight, testCtx(t))
	waitFor(t, func() bool { return l.WaitingRight() == 3 })

	left.Release()
	g1 := withTimeout(t, first)
	g2 := withTimeout(t, second)
	g3 := withTimeout(t, third)
	require.NoError(t, g1.err)
	require.NoError(t, g2.err)
	require.NoError(t, g3.err)
	assert.True(t, l.IsRight())
	assert.Equal(t, 0, l.WaitingRight())

	g1.lease.Release()
	g2.lease.Release()
	g3.lease.Release()
	assert.False(t, l.IsRight())
}

func TestSwitchLockFairBlocksSameSide(t *testing.T) {
	log.Println("============== TestSwitchLockFairBlocksSameSide ================")
	l := NewSwitchLock()

	left, err := l.LockLeft(testCtx(t))
	require.NoError(t, err)

	right := acquireAsync(l.LockRight, testCtx(t))
	waitFor(t, func() bool { return l.WaitingRight() == 1 })

	// fair mode queues a second left caller behind the waiting right
	lateLeft := acquireAsync(l.LockLeft, testCtx(t))
	waitFor(t, func() bool { return l.WaitingLeft() == 1 })

	left.Release()
	gr := withTimeout(t, right)
	require.NoError(t, gr.err)
	assert.True(t, l.IsRight())
	assert.Equal(t, 1, l.WaitingLeft())

	gr.lease.Release()
	gl := withTimeout(t, lateLeft)
	require.NoError(t, gl.err)
	assert.True(t, l.IsLeft())
	gl.lease.Release()
}

func TestSwitchLockUnfairJoinsSameSide(t *testing.T) {
	log.Println("============== TestSwitchLockUnfairJoinsSameSide ================")
	l := NewSwitchLock(Unfair())

	first, err := l.LockLeft(testCtx(t))
	require.NoError(t, err)

	right := acquireAsync(l.LockRight, testCtx(t))
	waitFor(t, func() bool { return l.WaitingRight() == 1 })

	// unfair mode lets another left holder in past the waiting right
	second, err := l.LockLeft(testCtx(t))
	require.NoError(t, err)

	first.Release()
	second.Release()
	g := withTimeout(t, right)
	require.NoError(t, g.err)
	g.lease.Release()
}

func TestSwitchLockCancelWaiter(t *testing.T) {
	log.Println("============== TestSwitchLockCancelWaiter ================")
	l := NewSwitchLock()

	left, err := l.LockLeft(testCtx(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	right := acquireAsync(l.LockRight, ctx)
	waitFor(t, func() bool { return l.WaitingRight() == 1 })

	cancel()
	g := withTimeout(t, right)
	assert.ErrorIs(t, g.err, context.Canceled)
	assert.Equal(t, 0, l.WaitingRight())

	// with the right waiter gone the release goes back to idle
	left.Release()
	assert.False(t, l.IsLeft())
	assert.False(t, l.IsRight())

	// and the side is free again
	lease, err := l.LockRight(testCtx(t))
	require.NoError(t, err)
	lease.Release()
}

func TestSwitchLockClose(t *testing.T) {
	log.Println("============== TestSwitchLockClose ================")
	l := NewSwitchLock()

	left, err := l.LockLeft(testCtx(t))
	require.NoError(t, err)

	right := acquireAsync(l.LockRight, testCtx(t))
	waitFor(t, func() bool { return l.WaitingRight() == 1 })

	l.Close()
	assert.ErrorIs(t, withTimeout(t, right).err, ErrClosed)

	_, err = l.LockLeft(testCtx(t))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = l.LockRight(testCtx(t))
	assert.ErrorIs(t, err, ErrClosed)

	left.Release()
	l.Close()
}

func TestSwitchLockNoOverlap(t *testing.T) {
	log.Println("============== TestSwitchLockNoOverlap ================")
	l := NewSwitchLock()

	var lefts, rights atomic.Int32
	var eg errgroup.Group
	for range 6 {
		eg.Go(func() error {
			for range 40 {
				lease, err := l.LockLeft(context.Background())
				if err != nil {
					return err
				}
				lefts.Add(1)
				if rights.Load() != 0 {
					return errors.New("left overlapped right")
				}
				lefts.Add(-1)
				lease.Release()
			}
			return nil
		})
		eg.Go(func() error {
			for range 40 {
				lease, err := l.LockRight(context.Background())
				if err != nil {
					return err
				}
				rights.Add(1)
				if lefts.Load() != 0 {
					return errors.New("right overlapped left")
				}
				rights.Add(-1)
				lease.Release()
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	assert.False(t, l.IsLeft())
	assert.False(t, l.IsRight())
	assert.Equal(t, 0, l.WaitingLeft())
	assert.Equal(t, 0, l.WaitingRight())
}

func TestSwitchLockRandomizedCancel(t *testing.T) {
	log.Println("============== TestSwitchLockRandomizedCancel ================")
	l := NewSwitchLock()

	var eg errgroup.Group
	for i := range 8 {
		rng := pcg.New(uint64(i) + 1)
		side := l.LockLeft
		if i%2 == 1 {
			side = l.LockRight
		}
		eg.Go(func() error {
			for range 100 {
				ctx, cancel := context.WithTimeout(context.Background(),
					time.Duration(rng.Uint32()%1000)*time.Microsecond)
				lease, err := side(ctx)
				cancel()
				if err == nil {
					if l.IsLeft() && l.IsRight() {
						return errors.New("both sides held at once")
					}
					lease.Release()
				} else if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	// every waiter either acquired and released or cancelled out
	assert.False(t, l.IsLeft())
	assert.False(t, l.IsRight())
	assert.Equal(t, 0, l.WaitingLeft())
	assert.Equal(t, 0, l.WaitingRight())
}
