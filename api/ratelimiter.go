// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package api

import (
	"sync"

	"github.com/iotexproject/go-pkgs/cache"
	"golang.org/x/time/rate"
)

// clientLimiter keeps one token bucket per client, evicting the least recently seen clients
type clientLimiter struct {
	mu       sync.Mutex
	limiters cache.LRUCache
	r        rate.Limit
	b        int
}

func newClientLimiter(size int, r rate.Limit, b int) *clientLimiter {
	return &clientLimiter{
		limiters: cache.NewThreadSafeLruCache(size),
		r:        r,
		b:        b,
	}
}

func (cl *clientLimiter) limiter(key string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	limiter, exists := cl.limiters.Get(key)
	if !exists {
		limiter = rate.NewLimiter(cl.r, cl.b)
		cl.limiters.Add(key, limiter)
	}
	return limiter.(*rate.Limiter)
}

// Allow reports whether the client may send a request now
func (cl *clientLimiter) Allow(key string) bool {
	return cl.limiter(key).Allow()
}
