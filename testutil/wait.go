// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package testutil

import (
	"time"

	"github.com/pkg/errors"
)

// CheckCondition defines a func type that checks whether a test condition is satisfied
type CheckCondition func() (bool, error)

// WaitUntil waits for the condition to be met, polling every interval, and fails after timeout
func WaitUntil(interval time.Duration, timeout time.Duration, f CheckCondition) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.After(timeout)
	for {
		select {
		case <-deadline:
			return errors.Errorf("timeout after %s waiting for condition", timeout)
		case <-ticker.C:
			ok, err := f()
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
	}
}
