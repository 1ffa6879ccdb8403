// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package chainclient

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/iotexproject/iotex-channel-service/pkg/log"
)

const _maxRetryInterval = 24 * time.Hour

type (
	// RetryPolicy bounds the retries of one outbound call. Every call starts from a
	// fresh backoff, so an exhausted call never delays the next one.
	RetryPolicy struct {
		MaxAttempts uint64        `yaml:"maxAttempts"`
		BaseDelay   time.Duration `yaml:"baseDelay"`
		Factor      float64       `yaml:"factor"`
		// Clock drives the waits between attempts
		Clock clock.Clock `yaml:"-"`
	}

	permanentError struct {
		err error
	}
)

// DefaultRetryPolicy waits base, 2b, 4b and 8b between five attempts
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	BaseDelay:   500 * time.Millisecond,
	Factor:      2,
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether retrying err is pointless: missing data, json-rpc
// application errors and context cancellation
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var pe *permanentError
	if errors.As(err, &pe) {
		return true
	}
	if errors.Is(err, ethereum.NotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr)
}

// Validate validates the policy
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts == 0 {
		return errors.New("retry policy needs at least one attempt")
	}
	if p.BaseDelay < 0 {
		return errors.New("retry base delay cannot be negative")
	}
	if p.Factor < 1 {
		return errors.Errorf("retry factor %f is smaller than 1", p.Factor)
	}
	return nil
}

func (p RetryPolicy) clock() clock.Clock {
	if p.Clock == nil {
		return clock.New()
	}
	return p.Clock
}

func (p RetryPolicy) newBackOff() backoff.BackOff {
	if p.MaxAttempts <= 1 {
		return &backoff.StopBackOff{}
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.RandomizationFactor = 0
	exp.Multiplier = p.Factor
	exp.MaxInterval = _maxRetryInterval
	exp.MaxElapsedTime = 0
	exp.Clock = p.clock()
	bo := backoff.WithMaxRetries(exp, p.MaxAttempts-1)
	bo.Reset()
	return bo
}

// Do runs op until it succeeds, fails permanently, ctx is done or the attempts are
// exhausted; the last error is returned
func (p RetryPolicy) Do(ctx context.Context, op func(context.Context) error) error {
	var (
		bo  = p.newBackOff()
		clk = p.clock()
	)
	for attempt := uint64(1); ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			var pe *permanentError
			if errors.As(err, &pe) {
				return pe.err
			}
			return err
		}
		next := bo.NextBackOff()
		if next == backoff.Stop {
			return errors.Wrapf(err, "giving up after %d attempts", attempt)
		}
		log.Logger("chainclient").Debug("retrying rpc call",
			zap.Uint64("attempt", attempt),
			zap.Duration("delay", next),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), err.Error())
		case <-clk.After(next):
		}
	}
}

// Call is Do for operations returning a value
func Call[T any](ctx context.Context, p RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	var ret T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		ret = v
		return nil
	})
	return ret, err
}

func isNotFound(err error) bool {
	return errors.Is(err, ethereum.NotFound)
}
