// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package httputil

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestServer(t *testing.T) {
	t.Run("creates a HTTP server with time out settings", func(t *testing.T) {
		var handler http.Handler
		addr := "myAddress"

		result := NewServer(addr, handler, ReadHeaderTimeout(2*time.Second), WriteTimeout(time.Minute))
		require.Equal(t, 2*time.Second, result.ReadHeaderTimeout)
		require.Equal(t, DefaultServerConfig.ReadTimeout, result.ReadTimeout)
		require.Equal(t, time.Minute, result.WriteTimeout)
		require.Equal(t, DefaultServerConfig.IdleTimeout, result.IdleTimeout)
		require.Equal(t, addr, result.Addr)
		require.Equal(t, handler, result.Handler)
	})
}

func TestLimitListener(t *testing.T) {
	t.Run("missing port in address", func(t *testing.T) {
		result, err := LimitListener("myAddress")
		require.Error(t, err)
		require.Contains(t, err.Error(), "missing port in address")
		require.Nil(t, result)
	})

	t.Run("random local port", func(t *testing.T) {
		ln, err := LimitListener("127.0.0.1:0")
		require.NoError(t, err)
		require.NoError(t, ln.Close())
	})
}
