// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package daqctl

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Kind is the kind of a pipeline process. Kind values are defined
// so that their magnitudes correspond with the stage order of the
// pipeline: data flows from smaller to larger kinds.
type Kind int

const (
	// KindReader is a board reader: it reads raw data from one or
	// more front-end boards.
	KindReader Kind = iota
	// KindBuilder is an event builder: it assembles fragments from
	// all readers into complete events.
	KindBuilder
	// KindAggregator is a sink: a data logger or an online monitor
	// (dispatcher).
	KindAggregator
	// KindRouter is the optional routing broker.
	KindRouter

	maxKind
)

var kinds = [...]string{
	KindReader:     "BoardReader",
	KindBuilder:    "EventBuilder",
	KindAggregator: "Aggregator",
	KindRouter:     "RoutingMaster",
}

// String returns the kind's process name, as used in document
// names and in operator-facing output.
func (k Kind) String() string {
	if k < 0 || k >= maxKind {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kinds[k]
}

// BuilderOptions are the event-builder specific options.
type BuilderOptions struct {
	// CompressionLevel is the ADC compression level applied by the
	// builder.
	CompressionLevel int
	// SendTriggers configures the builder to send trigger requests
	// upstream.
	SendTriggers bool
}

// AggregatorOptions are the sink specific options.
type AggregatorOptions struct {
	// BunchSize is the number of events passed to the analysis
	// framework per bunch.
	BunchSize int
	// CompressionLevel is the output compression level.
	CompressionLevel int
	// DemoPrescale, when nonzero, splits output into prescaled
	// streams.
	DemoPrescale int
	// Dispatcher marks the sink as an online-monitor dispatcher. The
	// first declared sink is always the data logger of record.
	Dispatcher bool
}

// RoutingMode determines the pair of stages mediated by the routing
// broker.
type RoutingMode int

const (
	// RouteBuilders routes events from builders to sinks.
	RouteBuilders RoutingMode = iota
	// RouteReaders routes fragments from readers to builders.
	RouteReaders
)

func (m RoutingMode) String() string {
	switch m {
	case RouteBuilders:
		return "builders"
	case RouteReaders:
		return "readers"
	default:
		return fmt.Sprintf("RoutingMode(%d)", int(m))
	}
}

// ParseRoutingMode parses a routing mode name as returned by
// RoutingMode.String.
func ParseRoutingMode(s string) (RoutingMode, error) {
	switch s {
	case "", "builders":
		return RouteBuilders, nil
	case "readers":
		return RouteReaders, nil
	}
	return 0, errors.E(errors.Invalid, fmt.Sprintf("unknown routing mode %q", s))
}

// RouterOptions are the routing broker specific options.
type RouterOptions struct {
	Mode RoutingMode
	// TablePort is the port on which senders receive routing table
	// updates; TokenPort is the port on which the broker receives
	// tokens from receivers. Zero values are derived from the
	// broker's control port.
	TablePort, TokenPort int
	// BufferCount is the number of buffers each receiver advertises.
	BufferCount int
}

// A Document is a generated or loaded process configuration
// document.
type Document struct {
	// Name is the document's conventional file name.
	Name string
	// Text is the serialized document.
	Text string
	// Sum is a fingerprint of Text.
	Sum uint64
}

// Process is a single remote process in the pipeline. Processes are
// owned by a Registry. The topology compiler assigns Rank; the
// configuration cache sets Doc. All other fields are fixed at
// declaration.
type Process struct {
	Kind Kind
	Host string
	Port int
	// Index is the process's index among the processes of its kind,
	// in declaration order.
	Index int
	// Rank is the process's data-plane rank. It is -1 until the
	// topology has been compiled, and is never reassigned.
	Rank int
	// Group is the board group served by a reader process.
	Group *BoardGroup

	Builder    BuilderOptions
	Aggregator AggregatorOptions
	Router     RouterOptions

	// Doc is the cached configuration document, nil until generated
	// or loaded.
	Doc *Document
}

// Addr returns the process's control address as "host:port".
func (p *Process) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// Multi tells whether the process is a reader that serves more
// than one board.
func (p *Process) Multi() bool {
	return p.Kind == KindReader && p.Group != nil && p.Group.Composite()
}

// Label returns the operator-facing description of the process,
// for example "EventBuilder" or "TOY1 FragmentReceiver".
func (p *Process) Label() string {
	if p.Kind != KindReader || p.Group == nil {
		return p.Kind.String()
	}
	if p.Group.Composite() {
		return "multi-board FragmentReceiver"
	}
	kind := p.Group.Boards[0].Kind
	if kind == PBR {
		return "Preconfigured BoardReader"
	}
	return string(kind) + " FragmentReceiver"
}

func (p *Process) String() string {
	return fmt.Sprintf("%s(%s)", p.Kind, p.Addr())
}

func validateEndpoint(what, host string, port int) error {
	if host == "" {
		return errors.E(errors.Invalid, fmt.Sprintf("%s: missing host", what))
	}
	if port <= 0 || port > 65535 {
		return errors.E(errors.Invalid, fmt.Sprintf("%s %s: invalid port %d", what, host, port))
	}
	return nil
}
