// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package daqctl

import (
	"math/rand"
	"testing"

	"github.com/grailbio/base/errors"
)

func TestGroupBoardsShared(t *testing.T) {
	kinds := []BoardKind{V1720, TOY1, ASCII, UDP, PBR}
	r := rand.New(rand.NewSource(1))
	for trial := 0; trial < 10; trial++ {
		var boards []*Board
		for i := range kinds {
			boards = append(boards, &Board{Kind: kinds[i], Host: "h", Port: 5000, ID: i})
		}
		r.Shuffle(len(boards), func(i, j int) { boards[i], boards[j] = boards[j], boards[i] })
		groups := GroupBoards(boards)
		if got, want := len(groups), 1; got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
		g := groups[0]
		if got, want := len(g.Boards), len(kinds); got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if !g.Composite() {
			t.Error("expected composite group")
		}
		for i, b := range g.Boards {
			if b != boards[i] {
				t.Errorf("board %d: declaration order not preserved", i)
			}
			if b.Group != g {
				t.Errorf("board %d: wrong group", i)
			}
		}
	}
}

func TestGroupBoardsDistinct(t *testing.T) {
	var boards []*Board
	for i := 0; i < 4; i++ {
		boards = append(boards, &Board{Kind: TOY1, Host: "h", Port: 5000 + i, ID: i})
	}
	boards = append(boards, &Board{Kind: TOY1, Host: "other", Port: 5000, ID: 4})
	groups := GroupBoards(boards)
	if got, want := len(groups), len(boards); got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i, g := range groups {
		if g.Composite() {
			t.Errorf("group %d: unexpected composite", i)
		}
		if g.Boards[0] != boards[i] {
			t.Errorf("group %d: wrong board", i)
		}
	}
}

func TestBoardGroupFlags(t *testing.T) {
	g := &BoardGroup{}
	if !g.MarkSent() {
		t.Error("first MarkSent should succeed")
	}
	if g.MarkSent() {
		t.Error("second MarkSent should fail")
	}
	if !g.MarkGenerated() || g.MarkGenerated() {
		t.Error("generated flag is not one-shot")
	}
	if !g.MarkRead() || g.MarkRead() {
		t.Error("read flag is not one-shot")
	}
	g.ResetSession()
	if !g.MarkSent() {
		t.Error("MarkSent should succeed after ResetSession")
	}
	if g.MarkGenerated() {
		t.Error("ResetSession must not reset the generated flag")
	}
}

func TestParseBoardKind(t *testing.T) {
	for _, c := range []struct {
		in   string
		kind BoardKind
	}{
		{"v1720", V1720},
		{"TOY2", TOY2},
		{"pbr", PBR},
	} {
		kind, err := ParseBoardKind(c.in)
		if err != nil {
			t.Errorf("%s: %v", c.in, err)
			continue
		}
		if got, want := kind, c.kind; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
	if _, err := ParseBoardKind("v1730"); !errors.Is(errors.Invalid, err) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestFamilies(t *testing.T) {
	for _, c := range []struct {
		kind   BoardKind
		family Family
		gen    string
	}{
		{V1720, FamilyV172x, "V172xSimulator"},
		{V1724, FamilyV172x, "V172xSimulator"},
		{TOY1, FamilyToy, "ToySimulator"},
		{TOY2, FamilyToy, "ToySimulator"},
		{ASCII, FamilyASCII, "AsciiSimulator"},
		{UDP, FamilyUDP, "UDPReceiver"},
		{PBR, FamilyPBR, ""},
	} {
		if got, want := c.kind.Family(), c.family; got != want {
			t.Errorf("%s: got %v, want %v", c.kind, got, want)
		}
		if got, want := c.kind.Generator(), c.gen; got != want {
			t.Errorf("%s: got %v, want %v", c.kind, got, want)
		}
	}
}
