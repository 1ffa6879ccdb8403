// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package lifecycle

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// vars
var (
	ErrWrongState = errors.New("service is in wrong state")
)

// Readiness is a thread-safe struct to indicate a service's status. Besides polling IsReady,
// callers can block in WaitReady until the service turns on.
type Readiness struct {
	mu    sync.Mutex
	ready bool
	ch    chan struct{}
}

// TurnOn sets the service to ready (can accept service request)
func (r *Readiness) TurnOn() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready {
		return ErrWrongState
	}
	r.ready = true
	close(r.waitChan())
	return nil
}

// TurnOff sets the service to not ready (initial state)
func (r *Readiness) TurnOff() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ready {
		return ErrWrongState
	}
	r.ready = false
	r.ch = make(chan struct{})
	return nil
}

// IsReady returns whether the service is ready (can accept service request)
func (r *Readiness) IsReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// WaitReady blocks until the service is ready or ctx is done
func (r *Readiness) WaitReady(ctx context.Context) error {
	r.mu.Lock()
	ch := r.waitChan()
	r.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "service is not ready")
	}
}

// waitChan must be called with mu held
func (r *Readiness) waitChan() chan struct{} {
	if r.ch == nil {
		r.ch = make(chan struct{})
	}
	return r.ch
}
