// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package routine

import (
	"context"
	"sync"
	"time"

	"github.com/facebookgo/clock"

	"github.com/iotexproject/iotex-channel-service/pkg/lifecycle"
)

var _ lifecycle.StartStopper = (*RecurringTask)(nil)

type (
	// Task is the function a routine runs
	Task func()

	// RecurringTaskOption is option to RecurringTask.
	RecurringTaskOption interface {
		SetRecurringTaskOption(*RecurringTask)
	}

	recurringTaskOption struct {
		setRecurringTaskOption func(*RecurringTask)
	}
)

func (o recurringTaskOption) SetRecurringTaskOption(t *RecurringTask) {
	o.setRecurringTaskOption(t)
}

// WithClock sets the clock the task ticks on
func WithClock(c clock.Clock) RecurringTaskOption {
	return recurringTaskOption{
		setRecurringTaskOption: func(t *RecurringTask) {
			t.clock = c
		},
	}
}

// RunImmediately runs the task once right after Start, before the first tick
func RunImmediately() RecurringTaskOption {
	return recurringTaskOption{
		setRecurringTaskOption: func(t *RecurringTask) {
			t.immediate = true
		},
	}
}

// RecurringTask represents a recurring task. The task runs on a single goroutine,
// so two runs never overlap.
type RecurringTask struct {
	t         Task
	interval  time.Duration
	clock     clock.Clock
	immediate bool
	ticker    *clock.Ticker
	ch        chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewRecurringTask creates an instance of RecurringTask
func NewRecurringTask(t Task, i time.Duration, opts ...RecurringTaskOption) *RecurringTask {
	rt := &RecurringTask{
		t:        t,
		interval: i,
		clock:    clock.New(),
		ch:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt.SetRecurringTaskOption(rt)
	}
	return rt
}

// Start starts the timer
func (t *RecurringTask) Start(_ context.Context) error {
	t.ticker = t.clock.Ticker(t.interval)
	ready := make(chan struct{})
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		close(ready)
		if t.immediate {
			t.t()
		}
		for {
			select {
			case <-t.ch:
				return
			case <-t.ticker.C:
				t.t()
			}
		}
	}()

	<-ready
	return nil
}

// Stop stops the timer and waits for a running task to return
func (t *RecurringTask) Stop(_ context.Context) error {
	t.stopOnce.Do(func() {
		if t.ticker != nil {
			t.ticker.Stop()
		}
		close(t.ch)
	})
	t.wg.Wait()
	return nil
}
