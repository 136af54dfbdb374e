// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package fhicl

import (
	"testing"
)

func TestEncode(t *testing.T) {
	body := NewTable()
	daq := body.Table("daq")
	daq.Set("max_fragment_size_words", Int(2097152))
	fr := daq.Table("fragment_receiver")
	fr.Set("generator", Ident("ToySimulator"))
	fr.Set("ranks", Ints([]int{0, 1}))
	fr.Set("file", String(`/tmp/a "b"`))
	fr.Set("interval", Float(15))
	fr.Set("verbose", Bool(false))
	fr.Set("empty", NewTable())
	fr.Include("nADCcounts: 40\n")
	doc := &Document{Prolog: []string{"\nx: 1\n"}, Body: body}
	want := `BEGIN_PROLOG
x: 1
END_PROLOG
daq: {
  max_fragment_size_words: 2097152
  fragment_receiver: {
    generator: ToySimulator
    ranks: [ 0, 1 ]
    file: "/tmp/a \"b\""
    interval: 15.0
    verbose: false
    empty: {}
    nADCcounts: 40
  }
}
`
	if got := doc.String(); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestEncodeNestedSeq(t *testing.T) {
	body := NewTable()
	body.Set("list", Seq{Block("a: 1"), Block("b: 2\nc: 3")})
	want := `list: [
  {
    a: 1
  },
  {
    b: 2
    c: 3
  }
]
`
	if got := (&Document{Body: body}).String(); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestTableSet(t *testing.T) {
	tab := NewTable()
	tab.Set("a", Int(1)).Set("b", Int(2)).Set("a", Int(3))
	if got, want := len(tab.Keys()), 2; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	v, ok := tab.Get("a")
	if !ok || v != Int(3) {
		t.Errorf("got %v, want 3", v)
	}
	if got, want := tab.Keys()[0], "a"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
