// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package monitoring

import (
	"sync"
)

// channelLocks hands out one mutex per channel
type channelLocks struct {
	mu    sync.Mutex
	locks map[ChannelKey]*channelLock
}

type channelLock struct {
	sync.Mutex
	refs int
}

func newChannelLocks() *channelLocks {
	return &channelLocks{locks: make(map[ChannelKey]*channelLock)}
}

// lock locks the channel and returns the function unlocking it
func (l *channelLocks) lock(key ChannelKey) func() {
	l.mu.Lock()
	cl, ok := l.locks[key]
	if !ok {
		cl = &channelLock{}
		l.locks[key] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.Lock()
	return func() {
		cl.Unlock()
		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (l *channelLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
