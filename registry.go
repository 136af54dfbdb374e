// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package daqctl

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// A Registry holds the declared processes of a pipeline. Board
// declarations are merged into board groups as they are added; each
// group is served by a single reader process.
//
// Registries are not safe for concurrent use. They are built and
// compiled by a single control goroutine.
type Registry struct {
	// Boards are the declared boards, in declaration order.
	Boards []*Board
	// Groups are the board groups, in order of their first board.
	Groups []*BoardGroup
	// Builders are the event builders, in declaration order.
	Builders []*Process
	// Aggregators are the sinks, in declaration order. The first
	// aggregator is the data logger of record.
	Aggregators []*Process
	// Router is the optional routing broker.
	Router *Process

	index map[hostPort]*BoardGroup
}

// NewRegistry returns a new, empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[hostPort]*BoardGroup)}
}

// AddBoard declares a board. The board is assigned the next board
// index and merged into the group for its host and port, creating the
// group's reader process if needed.
func (r *Registry) AddBoard(b Board) *Board {
	board := new(Board)
	*board = b
	board.Index = len(r.Boards)
	board.Group = nil
	r.Boards = append(r.Boards, board)
	n := len(r.Groups)
	r.Groups = joinGroup(r.Groups, r.index, board)
	if len(r.Groups) > n {
		g := r.Groups[n]
		g.Process = &Process{
			Kind:  KindReader,
			Host:  g.Host,
			Port:  g.Port,
			Index: n,
			Rank:  -1,
			Group: g,
		}
	}
	return board
}

// AddBuilder declares an event builder.
func (r *Registry) AddBuilder(host string, port int, opts BuilderOptions) *Process {
	p := &Process{
		Kind:    KindBuilder,
		Host:    host,
		Port:    port,
		Index:   len(r.Builders),
		Rank:    -1,
		Builder: opts,
	}
	r.Builders = append(r.Builders, p)
	return p
}

// AddAggregator declares a sink.
func (r *Registry) AddAggregator(host string, port int, opts AggregatorOptions) *Process {
	p := &Process{
		Kind:       KindAggregator,
		Host:       host,
		Port:       port,
		Index:      len(r.Aggregators),
		Rank:       -1,
		Aggregator: opts,
	}
	r.Aggregators = append(r.Aggregators, p)
	return p
}

// SetRouter declares the routing broker, replacing any previous
// declaration.
func (r *Registry) SetRouter(host string, port int, opts RouterOptions) *Process {
	r.Router = &Process{
		Kind:   KindRouter,
		Host:   host,
		Port:   port,
		Rank:   -1,
		Router: opts,
	}
	return r.Router
}

// Readers returns the reader processes, one per board group.
func (r *Registry) Readers() []*Process {
	readers := make([]*Process, len(r.Groups))
	for i, g := range r.Groups {
		readers[i] = g.Process
	}
	return readers
}

// Processes returns every declared process in stage order: readers,
// builders, aggregators, and the routing broker.
func (r *Registry) Processes() []*Process {
	procs := r.Readers()
	procs = append(procs, r.Builders...)
	procs = append(procs, r.Aggregators...)
	if r.Router != nil {
		procs = append(procs, r.Router)
	}
	return procs
}

// DataLoggers returns the aggregators that are not dispatchers.
func (r *Registry) DataLoggers() []*Process {
	var procs []*Process
	for _, p := range r.Aggregators {
		if !p.Aggregator.Dispatcher {
			procs = append(procs, p)
		}
	}
	return procs
}

// Dispatchers returns the aggregators marked as online-monitor
// dispatchers.
func (r *Registry) Dispatchers() []*Process {
	var procs []*Process
	for _, p := range r.Aggregators {
		if p.Aggregator.Dispatcher {
			procs = append(procs, p)
		}
	}
	return procs
}

// PrimarySink returns the first declared aggregator, or nil if none
// is declared. Only the primary sink is consulted for run length.
func (r *Registry) PrimarySink() *Process {
	if len(r.Aggregators) == 0 {
		return nil
	}
	return r.Aggregators[0]
}

// BoardsInFamily returns the boards of the given family, in
// declaration order.
func (r *Registry) BoardsInFamily(f Family) []*Board {
	var boards []*Board
	for _, b := range r.Boards {
		if b.Kind.Family() == f {
			boards = append(boards, b)
		}
	}
	return boards
}

// ResetSession clears the per-session state of every board group. It
// is called at the start of each transition.
func (r *Registry) ResetSession() {
	for _, g := range r.Groups {
		g.ResetSession()
	}
}

// Validate checks the registry for configuration errors: missing or
// malformed endpoints, processes of different kinds sharing an
// endpoint, and a primary sink that is not a data logger. Errors
// have kind errors.Invalid.
func (r *Registry) Validate() error {
	for _, b := range r.Boards {
		if err := validateEndpoint(fmt.Sprintf("board %d", b.Index), b.Host, b.Port); err != nil {
			return err
		}
		if b.ID < 0 {
			return errors.E(errors.Invalid, fmt.Sprintf("board %s: negative board id", b))
		}
		if b.Kind == PBR && b.Generator == "" {
			return errors.E(errors.Invalid, fmt.Sprintf("board %s: preconfigured board reader requires a generator", b))
		}
	}
	seen := make(map[hostPort]*Process)
	for _, p := range r.Processes() {
		if err := validateEndpoint(p.Kind.String(), p.Host, p.Port); err != nil {
			return err
		}
		key := hostPort{p.Host, p.Port}
		if q, ok := seen[key]; ok {
			return errors.E(errors.Invalid, fmt.Sprintf("%s and %s share the endpoint %s", q, p, p.Addr()))
		}
		seen[key] = p
	}
	for _, p := range r.Builders {
		if p.Builder.CompressionLevel < 0 {
			return errors.E(errors.Invalid, fmt.Sprintf("%s: negative compression level", p))
		}
	}
	for _, p := range r.Aggregators {
		if p.Aggregator.BunchSize <= 0 {
			return errors.E(errors.Invalid, fmt.Sprintf("%s: bunch size must be positive", p))
		}
		if p.Aggregator.CompressionLevel < 0 || p.Aggregator.DemoPrescale < 0 {
			return errors.E(errors.Invalid, fmt.Sprintf("%s: negative aggregator option", p))
		}
	}
	if sink := r.PrimarySink(); sink != nil && sink.Aggregator.Dispatcher {
		return errors.E(errors.Invalid, fmt.Sprintf("%s: the first aggregator must be a data logger", sink))
	}
	return nil
}
