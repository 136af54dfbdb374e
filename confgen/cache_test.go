// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package confgen

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/grailbio/daqctl"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
)

func testPipeline(t *testing.T) (*daqctl.Registry, *daqctl.Topology) {
	t.Helper()
	reg := daqctl.NewRegistry()
	for i := 0; i < 3; i++ {
		reg.AddBoard(daqctl.Board{Kind: daqctl.TOY1, Host: "h", Port: 5205, ID: i})
	}
	reg.AddBoard(daqctl.Board{Kind: daqctl.V1720, Host: "h2", Port: 5206, ID: 3})
	reg.AddBuilder("eb", 5235, daqctl.BuilderOptions{})
	reg.AddAggregator("ag", 5265, daqctl.AggregatorOptions{BunchSize: 1})
	top, err := daqctl.Compile(reg, daqctl.TopologyOptions{})
	assert.NoError(t, err)
	return reg, top
}

func newTestCache(t *testing.T, dir string) (*Cache, *daqctl.Registry) {
	reg, top := testPipeline(t)
	gen := NewGenerator(reg, top, Params{DataDir: "/data"}, nil)
	return NewCache(dir, gen), reg
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	infos, err := ioutil.ReadDir(dir)
	assert.NoError(t, err)
	var names []string
	for _, info := range infos {
		names = append(names, info.Name())
	}
	sort.Strings(names)
	return names
}

func TestCacheGenerate(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	cache, reg := newTestCache(t, dir)
	assert.NoError(t, cache.Load(ctx, reg, false))

	want := []string{
		"Aggregator_ag_5265.fcl",
		"BoardReader_TOY1_h_5205.fcl",
		"BoardReader_V1720_h2_5206.fcl",
		"EventBuilder_eb_5235.fcl",
	}
	got := listDir(t, dir)
	assert.EQ(t, strings.Join(got, " "), strings.Join(want, " "))

	g := reg.Groups[0]
	if g.MarkGenerated() {
		t.Error("composite group was not marked generated")
	}
	doc := g.Process.Doc
	assert.NotNil(t, doc)
	if !strings.Contains(doc.Text, "generator: CompositeDriver") {
		t.Errorf("expected a composite document:\n%s", doc.Text)
	}
	if got, want := strings.Count(doc.Text, "generator: ToySimulator"), 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := len(cache.Documents()), 4; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	text, err := ioutil.ReadFile(filepath.Join(dir, doc.Name))
	assert.NoError(t, err)
	assert.EQ(t, string(text), doc.Text)
}

func TestCacheReadAndForce(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	cache, reg := newTestCache(t, dir)
	assert.NoError(t, cache.Load(ctx, reg, false))

	const edited = "daq: { edited: true }\n"
	path := filepath.Join(dir, "BoardReader_TOY1_h_5205.fcl")
	assert.NoError(t, ioutil.WriteFile(path, []byte(edited), 0644))

	cache, reg = newTestCache(t, dir)
	assert.NoError(t, cache.Load(ctx, reg, false))
	g := reg.Groups[0]
	assert.EQ(t, g.Process.Doc.Text, edited)
	if g.MarkRead() {
		t.Error("composite group was not marked read")
	}
	if !g.MarkGenerated() {
		t.Error("composite group was regenerated")
	}

	cache, reg = newTestCache(t, dir)
	assert.NoError(t, cache.Load(ctx, reg, true))
	if reg.Groups[0].Process.Doc.Text == edited {
		t.Error("forced regeneration kept the stored document")
	}
	text, err := ioutil.ReadFile(path)
	assert.NoError(t, err)
	assert.EQ(t, string(text), reg.Groups[0].Process.Doc.Text)
}

func TestCacheStableRegeneration(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	cache, reg := newTestCache(t, dir)
	assert.NoError(t, cache.Load(ctx, reg, true))
	first := reg.Groups[1].Process.Doc

	cache, reg = newTestCache(t, dir)
	assert.NoError(t, cache.Load(ctx, reg, true))
	second := reg.Groups[1].Process.Doc
	assert.EQ(t, first.Sum, second.Sum)
}

func TestDocumentName(t *testing.T) {
	reg, _ := testPipeline(t)
	for _, c := range []struct {
		p    *daqctl.Process
		name string
	}{
		{reg.Readers()[0], "BoardReader_TOY1_h_5205.fcl"},
		{reg.Builders[0], "EventBuilder_eb_5235.fcl"},
		{reg.Aggregators[0], "Aggregator_ag_5265.fcl"},
	} {
		if got, want := DocumentName(c.p), c.name; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}
