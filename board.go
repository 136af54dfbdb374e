// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package daqctl

import (
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
)

// BoardKind is the kind of a front-end board.
type BoardKind string

// The supported board kinds. PBR boards are preconfigured board
// readers whose generator and parameters are declared explicitly.
const (
	V1720 BoardKind = "V1720"
	V1724 BoardKind = "V1724"
	TOY1  BoardKind = "TOY1"
	TOY2  BoardKind = "TOY2"
	ASCII BoardKind = "ASCII"
	UDP   BoardKind = "UDP"
	PBR   BoardKind = "PBR"
)

// ParseBoardKind returns the board kind named by s. Names are case
// insensitive.
func ParseBoardKind(s string) (BoardKind, error) {
	switch kind := BoardKind(strings.ToUpper(s)); kind {
	case V1720, V1724, TOY1, TOY2, ASCII, UDP, PBR:
		return kind, nil
	}
	return "", errors.E(errors.Invalid, fmt.Sprintf("unknown board kind %q", s))
}

// Generator returns the name of the fragment generator that
// simulates or reads boards of this kind. PBR boards declare their
// own generator.
func (k BoardKind) Generator() string {
	switch k {
	case V1720, V1724:
		return "V172xSimulator"
	case TOY1, TOY2:
		return "ToySimulator"
	case UDP:
		return "UDPReceiver"
	case ASCII:
		return "AsciiSimulator"
	}
	return ""
}

// A Family is a set of board kinds that are sequenced together by
// run control.
type Family int

const (
	FamilyV172x Family = iota
	FamilyToy
	FamilyASCII
	FamilyPBR
	FamilyUDP
)

// Families lists all board families in dispatch order.
var Families = []Family{FamilyV172x, FamilyToy, FamilyASCII, FamilyPBR, FamilyUDP}

func (f Family) String() string {
	switch f {
	case FamilyV172x:
		return "v172x"
	case FamilyToy:
		return "toy"
	case FamilyASCII:
		return "ascii"
	case FamilyPBR:
		return "pbr"
	case FamilyUDP:
		return "udp"
	}
	return fmt.Sprintf("Family(%d)", int(f))
}

// Family returns the family of the board kind.
func (k BoardKind) Family() Family {
	switch k {
	case V1720, V1724:
		return FamilyV172x
	case TOY1, TOY2:
		return FamilyToy
	case ASCII:
		return FamilyASCII
	case UDP:
		return FamilyUDP
	}
	return FamilyPBR
}

// Board is a single front-end board declaration.
type Board struct {
	Kind BoardKind
	Host string
	Port int
	// ID is the board's hardware id.
	ID int
	// Index is the board's position among all declared boards. It
	// is also the board's fragment id.
	Index int
	// ConfigFile names an additional document, searched for in the
	// document path, whose contents are appended to the board's
	// generator parameters.
	ConfigFile string
	// Generator overrides the kind's default generator (PBR boards).
	Generator string
	// FragmentType overrides the kind as the board's fragment type
	// (PBR boards).
	FragmentType string
	// TypeConfig holds additional "key: value" generator parameters
	// (PBR boards).
	TypeConfig []string
	// Name is an optional operator-facing name.
	Name string

	// Group is the board group to which the board was merged.
	Group *BoardGroup
}

// GeneratorName returns the fragment generator used to read the
// board.
func (b *Board) GeneratorName() string {
	if b.Generator != "" {
		return b.Generator
	}
	return b.Kind.Generator()
}

// FragmentTypeName returns the type of the fragments produced by the
// board.
func (b *Board) FragmentTypeName() string {
	if b.FragmentType != "" {
		return b.FragmentType
	}
	return string(b.Kind)
}

func (b *Board) String() string {
	return fmt.Sprintf("%s#%d(%s:%d)", b.Kind, b.ID, b.Host, b.Port)
}

// A BoardGroup is the set of boards read out by a single reader
// process, identified by the process's host and port.
//
// A group carries three one-shot flags. Generated and read are set
// by the configuration cache so that a group's document is produced
// (or loaded) once per invocation even though the cache iterates
// over boards; sent is set by the command dispatcher so that a group
// receives one command per session. The flags are only touched by
// the control goroutine.
type BoardGroup struct {
	Host string
	Port int
	// Boards are the group's boards, in declaration order.
	Boards []*Board
	// Fragments holds the per-board partial documents, indexed as
	// Boards. Empty entries have not yet been produced.
	Fragments []string
	// Process is the reader process that serves the group.
	Process *Process

	generated, read, sent bool
}

// Composite tells whether the group holds more than one board, and
// therefore requires a composite document.
func (g *BoardGroup) Composite() bool {
	return len(g.Boards) > 1
}

// Kinds returns the board kinds in the group, in board order.
func (g *BoardGroup) Kinds() []BoardKind {
	kinds := make([]BoardKind, len(g.Boards))
	for i, b := range g.Boards {
		kinds[i] = b.Kind
	}
	return kinds
}

// Position returns the position of board b in the group, or -1.
func (g *BoardGroup) Position(b *Board) int {
	for i := range g.Boards {
		if g.Boards[i] == b {
			return i
		}
	}
	return -1
}

// Complete tells whether every board's fragment has been produced.
func (g *BoardGroup) Complete() bool {
	for _, frag := range g.Fragments {
		if frag == "" {
			return false
		}
	}
	return true
}

// MarkGenerated sets the group's generated flag and reports whether
// it was previously unset.
func (g *BoardGroup) MarkGenerated() bool {
	return mark(&g.generated)
}

// MarkRead sets the group's read flag and reports whether it was
// previously unset.
func (g *BoardGroup) MarkRead() bool {
	return mark(&g.read)
}

// MarkSent sets the group's sent flag and reports whether it was
// previously unset.
func (g *BoardGroup) MarkSent() bool {
	return mark(&g.sent)
}

// ResetSession clears the group's sent flag. Sessions correspond to
// a single transition.
func (g *BoardGroup) ResetSession() {
	g.sent = false
}

func mark(flag *bool) bool {
	if *flag {
		return false
	}
	*flag = true
	return true
}

type hostPort struct {
	host string
	port int
}

// GroupBoards merges board declarations that share a host and port
// into board groups. Groups are returned in order of their first
// board; boards keep their declaration order within each group. The
// kind of a board does not affect grouping.
func GroupBoards(boards []*Board) []*BoardGroup {
	var (
		groups []*BoardGroup
		index  = make(map[hostPort]*BoardGroup)
	)
	for _, b := range boards {
		groups = joinGroup(groups, index, b)
	}
	return groups
}

func joinGroup(groups []*BoardGroup, index map[hostPort]*BoardGroup, b *Board) []*BoardGroup {
	key := hostPort{b.Host, b.Port}
	g, ok := index[key]
	if !ok {
		g = &BoardGroup{Host: b.Host, Port: b.Port}
		index[key] = g
		groups = append(groups, g)
	}
	g.Boards = append(g.Boards, b)
	g.Fragments = append(g.Fragments, "")
	b.Group = g
	return groups
}
