// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package confgen

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/daqctl"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func expectContains(t *testing.T, doc string, subs ...string) {
	t.Helper()
	for _, sub := range subs {
		if !strings.Contains(doc, sub) {
			t.Errorf("document does not contain %q:\n%s", sub, doc)
		}
	}
}

func TestGenerateDocuments(t *testing.T) {
	ctx := context.Background()
	reg, top := testPipeline(t)
	gen := NewGenerator(reg, top, Params{DataDir: "/data", WriteData: true, Metrics: MetricLevels{Graphite: 2}}, nil)

	fragment, err := gen.Fragment(ctx, reg.Boards[3])
	assert.NoError(t, err)
	expectContains(t, fragment,
		"generator: V172xSimulator",
		"fragment_id: 3",
		"board_id: 3",
		"max_fragment_size_words: 2097152",
		"graphite: {",
		"level: 2",
	)

	eb, err := gen.Document(ctx, reg.Builders[0])
	assert.NoError(t, err)
	expectContains(t, eb,
		"fragment_receiver_count: 2",
		"expected_fragments_per_event: 4",
		"rootMPIOutput",
		"process_name: DAQ",
	)

	ag, err := gen.Document(ctx, reg.Aggregators[0])
	assert.NoError(t, err)
	expectContains(t, ag,
		"is_data_logger: true",
		"http://h:5205/RPC2,3",
		"http://eb:5235/RPC2,4",
		"http://ag:5265/RPC2,5",
		`"/data/artdaqdemo_r%06r_sr%02s_%to_%#.root"`,
	)
	expectContains(t, ag, "graphite: {")
}

func TestGenerateConfigFile(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	assert.NoError(t, ioutil.WriteFile(filepath.Join(dir, "pulser.fcl"), []byte("nADCcounts: 40\n"), 0644))

	reg := daqctl.NewRegistry()
	reg.AddBoard(daqctl.Board{Kind: daqctl.TOY1, Host: "h", Port: 5205, ConfigFile: "pulser.fcl"})
	missing := reg.AddBoard(daqctl.Board{Kind: daqctl.TOY2, Host: "h", Port: 5206, ConfigFile: "missing.fcl"})
	pbr := reg.AddBoard(daqctl.Board{
		Kind: daqctl.PBR, Host: "h", Port: 5207,
		Generator: "CustomGenerator", FragmentType: "TOY1",
		TypeConfig: []string{"nChannels: 8"},
	})
	reg.AddBuilder("eb", 5235, daqctl.BuilderOptions{})
	top, err := daqctl.Compile(reg, daqctl.TopologyOptions{})
	assert.NoError(t, err)
	gen := NewGenerator(reg, top, Params{}, SearchPath{dir})

	doc, err := gen.Fragment(ctx, reg.Boards[0])
	assert.NoError(t, err)
	expectContains(t, doc, "generator: ToySimulator", "nADCcounts: 40")

	_, err = gen.Fragment(ctx, missing)
	if !errors.Is(errors.NotExist, err) {
		t.Errorf("expected not exist, got %v", err)
	}

	doc, err = gen.Fragment(ctx, pbr)
	assert.NoError(t, err)
	expectContains(t, doc, "generator: CustomGenerator", "fragment_type: TOY1", "nChannels: 8")
}

func TestGenerateRouter(t *testing.T) {
	reg := daqctl.NewRegistry()
	reg.AddBoard(daqctl.Board{Kind: daqctl.TOY1, Host: "br", Port: 5205})
	reg.AddBuilder("eb", 5235, daqctl.BuilderOptions{})
	reg.AddAggregator("ag", 5265, daqctl.AggregatorOptions{BunchSize: 1})
	rm := reg.SetRouter("rm", 5300, daqctl.RouterOptions{})
	top, err := daqctl.Compile(reg, daqctl.TopologyOptions{})
	assert.NoError(t, err)
	gen := NewGenerator(reg, top, Params{}, nil)
	doc, err := gen.Document(context.Background(), rm)
	assert.NoError(t, err)
	expectContains(t, doc, "routing_mode: builders", "sender_ranks: [ 1 ]", "receiver_ranks: [ 2 ]")

	eb, err := gen.Document(context.Background(), reg.Builders[0])
	assert.NoError(t, err)
	expectContains(t, eb, "use_routing_master: true", `routing_master_hostname: "rm"`)
}

func TestArchive(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	docs := []*daqctl.Document{
		{Name: "EventBuilder_eb_5235.fcl", Text: "a: 1\n"},
		{Name: "Aggregator_ag_5265.fcl", Text: "b: 2\n"},
	}
	assert.NoError(t, Archive(context.Background(), dir, "0101", docs))
	for _, doc := range docs {
		text, err := ioutil.ReadFile(filepath.Join(dir, "0101", doc.Name))
		assert.NoError(t, err)
		expect.EQ(t, string(text), doc.Text)
	}
}
