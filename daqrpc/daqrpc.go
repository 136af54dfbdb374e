// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package daqrpc defines the command interface through which the
// control plane drives remote acquisition processes, together with a
// client and server that carry it over HTTP using
// github.com/grailbio/bigmachine/rpc.
//
// Every command returns the process's textual reply. Transport
// failures are reported as errors; a process that rejects a command
// may do either.
package daqrpc

import (
	"context"
	"strings"
)

const (
	// ServiceName is the name under which a Commander is registered
	// with the RPC server.
	ServiceName = "daq"
	// Prefix is the HTTP path prefix at which the RPC server is
	// mounted.
	Prefix = "/daqrpc/"
)

// Report keys understood by Commander.Report.
const (
	// EventCount reports the number of events processed in the
	// current run.
	EventCount = "event_count"
	// RunDuration reports the duration of the current run, in
	// seconds.
	RunDuration = "run_duration"
)

// Sentinel report values, returned by processes that cannot yet
// answer a report query.
const (
	Busy    = "busy"
	Unknown = "-1"
)

// NotReady tells whether the report reply is one of the sentinel
// values indicating that the process could not provide a value.
func NotReady(reply string) bool {
	reply = strings.TrimSpace(reply)
	return reply == Busy || reply == Unknown
}

// Commander is the run-control interface implemented by every
// acquisition process.
type Commander interface {
	// Init configures the process with the provided document.
	Init(ctx context.Context, doc string) (string, error)
	// Start begins the run with the provided run number.
	Start(ctx context.Context, run string) (string, error)
	Stop(ctx context.Context) (string, error)
	Pause(ctx context.Context) (string, error)
	Resume(ctx context.Context) (string, error)
	Shutdown(ctx context.Context) (string, error)
	// Status returns the process's state name.
	Status(ctx context.Context) (string, error)
	// LegalCommands returns the commands that are legal in the
	// process's current state.
	LegalCommands(ctx context.Context) (string, error)
	// Report returns the value of the named metric. See EventCount
	// and RunDuration.
	Report(ctx context.Context, key string) (string, error)
}

// A Connector returns Commanders for process addresses of the form
// host:port.
type Connector interface {
	Connect(addr string) Commander
}

// ConnectorFunc adapts a function to a Connector.
type ConnectorFunc func(addr string) Commander

// Connect implements Connector.
func (f ConnectorFunc) Connect(addr string) Commander { return f(addr) }
