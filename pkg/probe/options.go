// Copyright (c) 2024 IoTeX Foundation
// This source code is provided 'as is' and no warranties are given as to title or non-infringement, merchantability
// or fitness for purpose and, to the extent permitted by law, all liability for your use of the code is disclaimed.
// This source code is governed by Apache License 2.0 that can be found in the LICENSE file.

package probe

import "net/http"

// WithReadinessHandler is an option to set a readiness handler for probe server.
func WithReadinessHandler(h http.Handler) Option {
	return optionFunc(func(s *Server) { s.readinessHandler = h })
}

// WithReadinessCheck makes readiness additionally depend on check, e.g. the event sync
// having caught up with the confirmed head.
func WithReadinessCheck(check func() bool) Option {
	return optionFunc(func(s *Server) { s.readinessCheck = check })
}

type optionFunc func(*Server)

func (f optionFunc) SetOption(s *Server) { f(s) }
