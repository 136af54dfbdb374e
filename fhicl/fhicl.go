// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package fhicl provides a typed model of FHiCL configuration
// documents, as consumed by the pipeline's processes. Documents are
// assembled from tables, sequences and atoms, and are serialized to
// text only as a final step by Document.Encode.
package fhicl

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// A Value is a FHiCL value.
type Value interface {
	encode(w *writer)
}

// String is a quoted string atom.
type String string

// Ident is an unquoted atom, such as a module type or an enumerated
// option.
type Ident string

// Int is an integer atom.
type Int int64

// Float is a floating point atom.
type Float float64

// Bool is a boolean atom.
type Bool bool

// Raw is FHiCL text that is emitted verbatim. Raw values are used to
// splice in operator-supplied documents.
type Raw string

// Block is FHiCL table text that is emitted verbatim within braces.
type Block string

// Seq is a sequence of values.
type Seq []Value

// Ints returns a sequence of integer atoms.
func Ints(vals []int) Seq {
	seq := make(Seq, len(vals))
	for i, v := range vals {
		seq[i] = Int(v)
	}
	return seq
}

// Table is an ordered FHiCL table. Keys are emitted in insertion
// order. The zero Table is empty and ready to use.
type Table struct {
	entries []entry
}

type entry struct {
	key   string
	value Value
}

// NewTable returns a new, empty table.
func NewTable() *Table {
	return new(Table)
}

// Set sets key to value v, replacing any previous value in place.
// Set returns the table so that calls may be chained.
func (t *Table) Set(key string, v Value) *Table {
	for i := range t.entries {
		if t.entries[i].key == key {
			t.entries[i].value = v
			return t
		}
	}
	t.entries = append(t.entries, entry{key, v})
	return t
}

// Include appends raw text to the table body.
func (t *Table) Include(text string) *Table {
	if strings.TrimSpace(text) != "" {
		t.entries = append(t.entries, entry{"", Raw(text)})
	}
	return t
}

// Get returns the value of key, and whether it is present.
func (t *Table) Get(key string) (Value, bool) {
	for _, e := range t.entries {
		if e.key == key {
			return e.value, true
		}
	}
	return nil, false
}

// Table returns the subtable at key, creating it if it does not
// exist. Table panics if key holds a non-table value.
func (t *Table) Table(key string) *Table {
	if v, ok := t.Get(key); ok {
		return v.(*Table)
	}
	sub := NewTable()
	t.Set(key, sub)
	return sub
}

// Keys returns the table's keys, in order. Included raw text is
// omitted.
func (t *Table) Keys() []string {
	var keys []string
	for _, e := range t.entries {
		if e.key != "" {
			keys = append(keys, e.key)
		}
	}
	return keys
}

// Len returns the number of entries in the table.
func (t *Table) Len() int {
	return len(t.entries)
}

// A Document is a complete FHiCL document: an optional prolog,
// emitted within BEGIN_PROLOG and END_PROLOG markers, followed by a
// body table.
type Document struct {
	Prolog []string
	Body   *Table
}

// Encode writes the document's text to w.
func (d *Document) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	enc := &writer{w: bw}
	if len(d.Prolog) > 0 {
		enc.printf("BEGIN_PROLOG")
		for _, p := range d.Prolog {
			enc.printf("\n%s", strings.Trim(p, "\n"))
		}
		enc.printf("\nEND_PROLOG\n")
	}
	if d.Body != nil {
		d.Body.encodeEntries(enc)
	}
	if enc.err != nil {
		return enc.err
	}
	return bw.Flush()
}

// String returns the document's text.
func (d *Document) String() string {
	var b strings.Builder
	_ = d.Encode(&b)
	return b.String()
}

type writer struct {
	w      *bufio.Writer
	indent int
	err    error
}

func (w *writer) printf(format string, args ...interface{}) {
	if w.err != nil {
		return
	}
	_, w.err = fmt.Fprintf(w.w, format, args...)
}

func (w *writer) newline() {
	w.printf("\n%s", strings.Repeat("  ", w.indent))
}

func (s String) encode(w *writer) { w.printf("%s", strconv.Quote(string(s))) }
func (s Ident) encode(w *writer)  { w.printf("%s", string(s)) }
func (i Int) encode(w *writer)    { w.printf("%d", int64(i)) }
func (b Bool) encode(w *writer)   { w.printf("%t", bool(b)) }

func (f Float) encode(w *writer) {
	s := strconv.FormatFloat(float64(f), 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	w.printf("%s", s)
}

func (r Raw) encode(w *writer) {
	for i, line := range strings.Split(strings.Trim(string(r), "\n"), "\n") {
		if i > 0 {
			w.newline()
		}
		w.printf("%s", strings.TrimRight(line, " \t"))
	}
}

func (b Block) encode(w *writer) {
	w.printf("{")
	w.indent++
	w.newline()
	Raw(b).encode(w)
	w.indent--
	w.newline()
	w.printf("}")
}

func (s Seq) encode(w *writer) {
	if len(s) == 0 {
		w.printf("[]")
		return
	}
	if !s.nested() {
		w.printf("[ ")
		for i, v := range s {
			if i > 0 {
				w.printf(", ")
			}
			v.encode(w)
		}
		w.printf(" ]")
		return
	}
	w.printf("[")
	w.indent++
	for i, v := range s {
		if i > 0 {
			w.printf(",")
		}
		w.newline()
		v.encode(w)
	}
	w.indent--
	w.newline()
	w.printf("]")
}

func (s Seq) nested() bool {
	for _, v := range s {
		switch v.(type) {
		case *Table, Block, Seq:
			return true
		}
	}
	return false
}

func (t *Table) encode(w *writer) {
	if len(t.entries) == 0 {
		w.printf("{}")
		return
	}
	w.printf("{")
	w.indent++
	for _, e := range t.entries {
		w.newline()
		e.encode(w)
	}
	w.indent--
	w.newline()
	w.printf("}")
}

// encodeEntries writes the table's entries at the top level, without
// enclosing braces.
func (t *Table) encodeEntries(w *writer) {
	for i, e := range t.entries {
		if i > 0 {
			w.printf("\n")
		}
		e.encode(w)
	}
	w.printf("\n")
}

func (e entry) encode(w *writer) {
	if e.key != "" {
		w.printf("%s: ", e.key)
	}
	e.value.encode(w)
}
