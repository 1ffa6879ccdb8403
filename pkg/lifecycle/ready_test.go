// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReady(t *testing.T) {
	r := require.New(t)

	ready := Readiness{}
	r.False(ready.IsReady())
	r.Equal(ErrWrongState, ready.TurnOff())

	// ready after turn on
	r.NoError(ready.TurnOn())
	r.True(ready.IsReady())
	r.Equal(ErrWrongState, ready.TurnOn()) // cannot turn on again

	// not ready after turn off
	r.NoError(ready.TurnOff())
	r.False(ready.IsReady())
	r.Equal(ErrWrongState, ready.TurnOff()) // cannot turn off again
}

func TestWaitReady(t *testing.T) {
	r := require.New(t)

	ready := Readiness{}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	r.ErrorIs(ready.WaitReady(ctx), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() {
		done <- ready.WaitReady(context.Background())
	}()
	r.NoError(ready.TurnOn())
	select {
	case err := <-done:
		r.NoError(err)
	case <-time.After(time.Second):
		r.FailNow("WaitReady did not return after TurnOn")
	}

	// turning off re-arms the wait
	r.NoError(ready.TurnOff())
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	r.Error(ready.WaitReady(ctx2))
}
