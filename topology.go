// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package daqctl

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// DefaultPortOffset is the base data-plane port used when
// TopologyOptions.PortOffset is zero.
const DefaultPortOffset = 5300

// TopologyOptions parameterizes topology compilation.
type TopologyOptions struct {
	// PortOffset is added to a unit's rank to derive its data-plane
	// port.
	PortOffset int
}

// A HostEntry is a single entry in the host map: the data-plane
// address of a ranked unit.
type HostEntry struct {
	Rank int
	Host string
	Port int
}

func (e HostEntry) String() string {
	return fmt.Sprintf("%d=%s:%d", e.Rank, e.Host, e.Port)
}

// Wiring is the resolved data-plane wiring of a single process.
type Wiring struct {
	// Sources are the units from which the process receives data.
	Sources []HostEntry
	// Destinations are the units to which the process sends data.
	Destinations []HostEntry
}

// Routing is the resolved wiring of the routing broker.
type Routing struct {
	Mode RoutingMode
	// Host is the broker's host.
	Host string
	// TablePort is the port on which senders receive routing table
	// updates. TokenPort is the port on which the broker receives
	// tokens from receivers.
	TablePort, TokenPort int
	// Senders are the units whose destinations are chosen by the
	// broker. Receivers are the units that advertise buffers to the
	// broker.
	Senders, Receivers []HostEntry
	// BufferCount is the number of buffers advertised per receiver.
	BufferCount int
}

// Routes tells whether the broker mediates data sent by processes
// of the given kind.
func (r *Routing) Routes(sender Kind) bool {
	if r == nil {
		return false
	}
	switch r.Mode {
	case RouteReaders:
		return sender == KindReader
	default:
		return sender == KindBuilder
	}
}

// Receives tells whether processes of the given kind advertise
// tokens to the broker.
func (r *Routing) Receives(receiver Kind) bool {
	if r == nil {
		return false
	}
	switch r.Mode {
	case RouteReaders:
		return receiver == KindBuilder
	default:
		return receiver == KindAggregator
	}
}

// Topology is a compiled pipeline topology: the host map and the
// resolved per-process wiring. Topologies are immutable.
type Topology struct {
	// Hosts is the host map, indexed by rank.
	Hosts []HostEntry
	// Routing is the broker wiring, nil if no broker is declared.
	Routing *Routing

	wiring map[*Process]Wiring
	ranks  [maxKind][]int
}

// Wiring returns the resolved wiring of process p.
func (t *Topology) Wiring(p *Process) Wiring {
	return t.wiring[p]
}

// Ranks returns the ranks assigned to processes of the given kind.
func (t *Topology) Ranks(kind Kind) []int {
	return t.ranks[kind]
}

// NumRanks returns the number of ranked units.
func (t *Topology) NumRanks() int {
	return len(t.Hosts)
}

// FirstRank returns the lowest rank of the given kind, or the number
// of ranks if there are no processes of that kind.
func (t *Topology) FirstRank(kind Kind) int {
	if r := t.ranks[kind]; len(r) > 0 {
		return r[0]
	}
	return len(t.Hosts)
}

// wiringRefs is the unresolved wiring of a process: rank references
// that are resolved against the finished host map.
type wiringRefs struct {
	sources, destinations []int
}

// Compile compiles the topology of the processes in registry reg.
// Units are visited in stage order (reader groups, builders,
// aggregators) and each is assigned the next rank, starting at 0.
// Compilation proceeds in two passes: the first assigns ranks,
// populates the host map, and emits wiring by rank reference; the
// second resolves every reference against the complete host map.
// The routing broker does not consume a rank.
//
// Ranks are assigned once: Compile fails if any process in the
// registry already carries a rank.
func Compile(reg *Registry, opts TopologyOptions) (*Topology, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	offset := opts.PortOffset
	if offset == 0 {
		offset = DefaultPortOffset
	}
	var (
		t    = &Topology{wiring: make(map[*Process]Wiring)}
		refs = make(map[*Process]*wiringRefs)
	)
	// Pass 1: ranks, host map, and wiring references.
	visit := func(p *Process) error {
		if p.Rank >= 0 {
			return errors.E(errors.Invalid, fmt.Sprintf("%s: rank %d already assigned", p, p.Rank))
		}
		rank := len(t.Hosts)
		t.Hosts = append(t.Hosts, HostEntry{Rank: rank, Host: p.Host, Port: offset + rank})
		t.ranks[p.Kind] = append(t.ranks[p.Kind], rank)
		refs[p] = new(wiringRefs)
		p.Rank = rank
		return nil
	}
	for _, p := range reg.Processes() {
		if p.Kind == KindRouter {
			continue
		}
		if err := visit(p); err != nil {
			return nil, err
		}
	}
	var (
		readers     = t.ranks[KindReader]
		builders    = t.ranks[KindBuilder]
		dataLoggers = ranksOf(reg.DataLoggers())
	)
	for _, p := range reg.Readers() {
		refs[p].destinations = builders
	}
	for _, p := range reg.Builders {
		refs[p].sources = readers
		refs[p].destinations = dataLoggers
	}
	for _, p := range reg.Aggregators {
		if p.Aggregator.Dispatcher {
			refs[p].sources = dataLoggers
		} else {
			refs[p].sources = builders
		}
	}
	// Pass 2: resolve references.
	resolve := func(ranks []int) ([]HostEntry, error) {
		entries := make([]HostEntry, len(ranks))
		for i, rank := range ranks {
			if rank < 0 || rank >= len(t.Hosts) {
				return nil, errors.E(fmt.Sprintf("internal error: wiring references rank %d, host map has %d entries", rank, len(t.Hosts)))
			}
			entries[i] = t.Hosts[rank]
		}
		return entries, nil
	}
	for p, r := range refs {
		var (
			w   Wiring
			err error
		)
		if w.Sources, err = resolve(r.sources); err != nil {
			return nil, err
		}
		if w.Destinations, err = resolve(r.destinations); err != nil {
			return nil, err
		}
		t.wiring[p] = w
	}
	if p := reg.Router; p != nil {
		routing, err := compileRouting(t, reg, p, resolve)
		if err != nil {
			return nil, err
		}
		t.Routing = routing
	}
	log.Debug.Printf("compiled topology: %d ranks %v", len(t.Hosts), t.Hosts)
	return t, nil
}

func compileRouting(t *Topology, reg *Registry, p *Process, resolve func([]int) ([]HostEntry, error)) (*Routing, error) {
	r := &Routing{
		Mode:        p.Router.Mode,
		Host:        p.Host,
		TablePort:   p.Router.TablePort,
		TokenPort:   p.Router.TokenPort,
		BufferCount: p.Router.BufferCount,
	}
	if r.TablePort == 0 {
		r.TablePort = p.Port + 1
	}
	if r.TokenPort == 0 {
		r.TokenPort = p.Port + 2
	}
	if r.BufferCount == 0 {
		r.BufferCount = 10
	}
	var senders, receivers []int
	switch r.Mode {
	case RouteReaders:
		senders, receivers = t.ranks[KindReader], t.ranks[KindBuilder]
	default:
		senders, receivers = t.ranks[KindBuilder], ranksOf(reg.DataLoggers())
	}
	var err error
	if r.Senders, err = resolve(senders); err != nil {
		return nil, err
	}
	if r.Receivers, err = resolve(receivers); err != nil {
		return nil, err
	}
	return r, nil
}

func ranksOf(procs []*Process) []int {
	ranks := make([]int, len(procs))
	for i, p := range procs {
		ranks[i] = p.Rank
	}
	return ranks
}
