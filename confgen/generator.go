// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package confgen

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/daqctl"
	"github.com/grailbio/daqctl/fhicl"
	"github.com/spaolacci/murmur3"
)

// Documents included in generated documents when present in the
// search path.
const (
	generatorBaseDoc = "CommandableFragmentGenerator.fcl"
	viewerDoc        = "WFViewer.fcl"
)

// XML-RPC client groups of the processes listed in an aggregator's
// client list.
const (
	readerGroup     = 3
	builderGroup    = 4
	aggregatorGroup = 5
)

// A Generator produces the configuration documents of a compiled
// pipeline. Each document embeds the process's wiring, as resolved
// by the topology, together with the global run parameters.
type Generator struct {
	reg    *daqctl.Registry
	top    *daqctl.Topology
	params Params
	path   SearchPath
}

// NewGenerator returns a generator for the processes in registry reg,
// compiled into topology top. Included documents are searched for in
// the provided search path.
func NewGenerator(reg *daqctl.Registry, top *daqctl.Topology, params Params, path SearchPath) *Generator {
	return &Generator{reg: reg, top: top, params: params.withDefaults(), path: path}
}

// Document generates the document of process p. Documents of
// multi-board readers are composites of their boards' fragments.
func (g *Generator) Document(ctx context.Context, p *daqctl.Process) (string, error) {
	switch p.Kind {
	case daqctl.KindReader:
		if !p.Group.Composite() {
			return g.Fragment(ctx, p.Group.Boards[0])
		}
		fragments := make([]string, len(p.Group.Boards))
		for i, b := range p.Group.Boards {
			var err error
			if fragments[i], err = g.Fragment(ctx, b); err != nil {
				return "", err
			}
		}
		return g.Composite(fragments), nil
	case daqctl.KindBuilder:
		return g.Builder(ctx, p)
	case daqctl.KindAggregator:
		return g.Aggregator(ctx, p)
	case daqctl.KindRouter:
		return g.Router(p), nil
	}
	return "", errors.E(errors.Invalid, fmt.Sprintf("no generator for %s", p))
}

// Composite merges a multi-board reader's fragments.
func (g *Generator) Composite(fragments []string) string {
	doc, _ := MergeComposite(fragments, CompositeOptions{
		BuilderCount:     len(g.reg.Builders),
		FirstBuilderRank: g.top.FirstRank(daqctl.KindBuilder),
	})
	return doc.String()
}

// Fragment generates the reader document of a single board. For
// single-board readers, the fragment is the reader's document.
func (g *Generator) Fragment(ctx context.Context, b *daqctl.Board) (string, error) {
	p := b.Group.Process
	fr := fhicl.NewTable()
	fr.Set("mpi_sync_interval", fhicl.Int(50))
	if err := g.generatorParams(ctx, b, fr); err != nil {
		return "", err
	}
	fr.Set("destinations", g.destinations(p))
	fr.Set("routing_table_config", g.routingTable(p))
	body := fhicl.NewTable()
	body.Table("daq").
		Set("max_fragment_size_words", fhicl.Int(g.params.FragmentSizeWords)).
		Set("fragment_receiver", fr).
		Set("metrics", metrics(g.params.Metrics, "brFile", path.Join(g.params.DataDir, "boardreader/br_%UID%_metrics.log")))
	return (&fhicl.Document{Body: body}).String(), nil
}

func (g *Generator) generatorParams(ctx context.Context, b *daqctl.Board, t *fhicl.Table) error {
	base, err := g.include(ctx, generatorBaseDoc, false)
	if err != nil {
		return err
	}
	t.Include(base)
	t.Set("generator", fhicl.Ident(b.GeneratorName())).
		Set("fragment_type", fhicl.Ident(b.FragmentTypeName())).
		Set("fragment_id", fhicl.Int(b.Index)).
		Set("board_id", fhicl.Int(b.ID)).
		Set("starting_fragment_id", fhicl.Int(b.Index)).
		Set("random_seed", fhicl.Int(randomSeed(b))).
		Set("sleep_on_stop_us", fhicl.Int(500000))
	doc, required := b.ConfigFile, true
	if doc == "" {
		doc, required = b.GeneratorName()+".fcl", false
	}
	text, err := g.include(ctx, doc, required)
	if err != nil {
		return err
	}
	t.Include(text)
	t.Include(strings.Join(b.TypeConfig, "\n"))
	return nil
}

// include reads the named document from the search path. Missing
// optional documents are skipped.
func (g *Generator) include(ctx context.Context, name string, required bool) (string, error) {
	text, err := g.path.Read(ctx, name)
	if err == nil {
		return text, nil
	}
	if !required && errors.Is(errors.NotExist, err) {
		log.Debug.Printf("optional document %s not found", name)
		return "", nil
	}
	return "", errors.E(err, "include "+name)
}

// randomSeed derives a board's generator seed from its identity, so
// that regenerated documents are stable.
func randomSeed(b *daqctl.Board) int {
	key := fmt.Sprintf("%s:%d:%d:%d", b.Host, b.Port, b.Index, b.ID)
	return int(murmur3.Sum32([]byte(key)) % 10000)
}

// Builder generates the document of event builder p.
func (g *Generator) Builder(ctx context.Context, p *daqctl.Process) (string, error) {
	var (
		nreader = len(g.reg.Groups)
		nagg    = len(g.reg.Aggregators)
		params  = g.params
	)
	eb := fhicl.NewTable().
		Set("mpi_buffer_count", fhicl.Int(nreader*8)).
		Set("first_fragment_receiver_rank", fhicl.Int(g.top.FirstRank(daqctl.KindReader))).
		Set("fragment_receiver_count", fhicl.Int(nreader)).
		Set("expected_fragments_per_event", fhicl.Int(len(g.reg.Boards))).
		Set("use_art", fhicl.Bool(true)).
		Set("print_event_store_stats", fhicl.Bool(true)).
		Set("verbose", fhicl.Bool(nagg == 0)).
		Set("send_triggers", fhicl.Bool(p.Builder.SendTriggers)).
		Set("compression_level", fhicl.Int(p.Builder.CompressionLevel)).
		Set("sources", g.sources(p)).
		Set("routing_token_config", g.tokenConfig(p))
	body := fhicl.NewTable()
	body.Set("services", g.services(g.destinations(p), g.routingTable(p)))
	body.Table("daq").
		Set("max_fragment_size_words", fhicl.Int(params.FragmentSizeWords)).
		Set("event_builder", eb).
		Set("metrics", metrics(params.Metrics, "evbFile", path.Join(params.DataDir, "eventbuilder/evb_%UID%_metrics.log")))

	outputs := fhicl.NewTable()
	physics := g.physics()
	analyzers := physics.Table("analyzers")
	switch {
	case nagg > 0:
		outputs.Set("rootMPIOutput", fhicl.NewTable().Set("module_type", fhicl.Ident("RootMPIOutput")))
		physics.Set("my_output_modules", fhicl.Seq{fhicl.Ident("rootMPIOutput")})
	default:
		if params.WriteData {
			name := fmt.Sprintf("artdaqdemo_eb%02d_r%%06r_sr%%02s_%%to.root", p.Index)
			outputs.Set("normalOutput", fhicl.NewTable().
				Set("module_type", fhicl.Ident("RootOutput")).
				Set("fileName", fhicl.String(path.Join(params.DataDir, name))).
				Set("fileProperties", fhicl.NewTable().
					Set("maxRuns", fhicl.Int(1)).
					Set("maxSubRuns", fhicl.Int(1))))
			physics.Set("my_output_modules", fhicl.Seq{fhicl.Ident("normalOutput")})
		}
		if params.Onmon {
			if err := g.viewer(ctx, analyzers); err != nil {
				return "", err
			}
			physics.Set("a1", fhicl.Seq{fhicl.Ident("app"), fhicl.Ident("wf")})
		}
	}
	body.Set("outputs", outputs)
	body.Set("physics", physics)
	body.Set("source", fhicl.NewTable().
		Set("module_type", fhicl.Ident("DemoInput")).
		Set("waiting_time", fhicl.Int(2500000)).
		Set("resume_after_timeout", fhicl.Bool(true)))
	body.Set("process_name", fhicl.Ident("DAQ"))
	return (&fhicl.Document{Body: body}).String(), nil
}

// Aggregator generates the document of aggregator p.
func (g *Generator) Aggregator(ctx context.Context, p *daqctl.Process) (string, error) {
	var (
		params      = g.params
		opts        = p.Aggregator
		dataLoggers = g.reg.DataLoggers()
		onmon       = params.Onmon
		writeData   = params.WriteData
		agType      = "is_data_logger"
		queueDepth  = 20
		queueWait   = 5
	)
	if opts.Dispatcher {
		agType, queueDepth, queueWait = "is_dispatcher", 2, 1
		writeData = false
	} else if len(g.reg.Aggregators) > 1 {
		onmon = false
	}
	ag := fhicl.NewTable().
		Set("expected_fragments_per_event", fhicl.Int(opts.BunchSize)).
		Set("max_fragment_size_bytes", fhicl.Int(params.FragmentSizeWords*8)).
		Set("print_event_store_stats", fhicl.Bool(true)).
		Set("buffer_count", fhicl.Int(queueDepth)).
		Set("event_queue_wait_time", fhicl.Int(queueWait)).
		Set("onmon_event_prescale", fhicl.Int(params.OnmonPrescale)).
		Set("xmlrpc_client_list", fhicl.String(g.ClientList())).
		Set("subrun_size_MB", fhicl.Float(params.FileSizeMB)).
		Set("subrun_duration", fhicl.Int(params.FileDurationSeconds)).
		Set("subrun_event_count", fhicl.Int(params.FileEventCount)).
		Set(agType, fhicl.Bool(true)).
		Set("routing_token_config", g.tokenConfig(p)).
		Set("auto_suppression_enabled", fhicl.Bool(false)).
		Set("sources", g.sources(p))
	body := fhicl.NewTable()
	body.Set("services", g.services(nil, nil))
	body.Table("daq").
		Set("aggregator", ag).
		Set("metrics", metrics(params.Metrics, "aggFile", path.Join(params.DataDir, "aggregator/agg_%UID%_metrics.log")))
	body.Set("source", fhicl.NewTable().Set("module_type", fhicl.Ident("NetMonInput")))

	name := "artdaqdemo_r%06r_sr%02s_%to_%#"
	if len(dataLoggers) > 1 {
		name += fmt.Sprintf("_%d", p.Index)
	}
	outFile := path.Join(params.DataDir, name+".root")
	output := func(fileName string) *fhicl.Table {
		return fhicl.NewTable().
			Set("module_type", fhicl.Ident("RootOutput")).
			Set("fileName", fhicl.String(fileName)).
			Set("fileProperties", fileProperties(params)).
			Set("fastCloning", fhicl.Bool(false)).
			Set("compressionLevel", fhicl.Int(opts.CompressionLevel))
	}
	outputs := fhicl.NewTable()
	physics := g.physics()
	analyzers := physics.Table("analyzers")
	physics.Table("producers").Set("BuildInfo", fhicl.NewTable().
		Set("module_type", fhicl.Ident("ArtdaqDemoBuildInfo")).
		Set("instance_name", fhicl.Ident("ArtdaqDemo")))
	physics.Set("p2", fhicl.Seq{fhicl.Ident("BuildInfo")})
	switch {
	case writeData && opts.DemoPrescale != 0:
		base := strings.TrimSuffix(outFile, ".root")
		outputs.Set("normalOutputMod2", output(base+"_mod2.root").
			Set("SelectEvents", fhicl.Seq{fhicl.Ident("pmod2")}))
		outputs.Set("normalOutputMod3", output(base+"_mod3.root").
			Set("SelectEvents", fhicl.Seq{fhicl.Ident("pmod3")}))
		physics.Set("my_output_modules", fhicl.Seq{fhicl.Ident("normalOutputMod2"), fhicl.Ident("normalOutputMod3")})
	case writeData:
		outputs.Set("normalOutput", output(outFile))
		physics.Set("my_output_modules", fhicl.Seq{fhicl.Ident("normalOutput")})
	}
	if onmon {
		if err := g.viewer(ctx, analyzers); err != nil {
			return "", err
		}
		physics.Set("a1", fhicl.Raw(params.OnmonModules))
		if params.OnmonFile != "" {
			wf, _ := analyzers.Get("wf")
			wf.(*fhicl.Table).Set("fileName", fhicl.String(params.OnmonFile))
		}
	}
	body.Set("outputs", outputs)
	body.Set("physics", physics)
	body.Set("process_name", fhicl.Ident("DAQAG"))
	return (&fhicl.Document{Body: body}).String(), nil
}

func fileProperties(params Params) *fhicl.Table {
	t := fhicl.NewTable().Set("maxRuns", fhicl.Int(1))
	if params.FileSizeMB > 0 {
		t.Set("maxSize", fhicl.Int(int(params.FileSizeMB*1024)))
	}
	if params.FileDurationSeconds > 0 {
		t.Set("maxAge", fhicl.Int(params.FileDurationSeconds))
	}
	if params.FileEventCount > 0 {
		t.Set("maxEvents", fhicl.Int(params.FileEventCount))
	}
	return t
}

// Router generates the document of the routing broker p.
func (g *Generator) Router(p *daqctl.Process) string {
	r := g.top.Routing
	body := fhicl.NewTable()
	body.Table("daq").
		Set("policy", fhicl.NewTable().
			Set("policy", fhicl.String("NoOp")).
			Set("receiver_ranks", fhicl.Ints(entryRanks(r.Receivers))).
			Set("receiver_buffer_count", fhicl.Int(r.BufferCount))).
		Set("routing_mode", fhicl.Ident(r.Mode.String())).
		Set("sender_ranks", fhicl.Ints(entryRanks(r.Senders))).
		Set("table_update_port", fhicl.Int(r.TablePort)).
		Set("routing_token_port", fhicl.Int(r.TokenPort)).
		Set("metrics", metrics(g.params.Metrics, "rmFile", path.Join(g.params.DataDir, "RoutingMaster/rm_%UID%_metrics.log")))
	return (&fhicl.Document{Body: body}).String()
}

func entryRanks(entries []daqctl.HostEntry) []int {
	ranks := make([]int, len(entries))
	for i, e := range entries {
		ranks[i] = e.Rank
	}
	return ranks
}

// ClientList returns the XML-RPC client list embedded in aggregator
// documents: every reader, builder, and aggregator, tagged with its
// group number.
func (g *Generator) ClientList() string {
	var b strings.Builder
	add := func(p *daqctl.Process, group int) {
		fmt.Fprintf(&b, ";http://%s:%d/RPC2,%d", p.Host, p.Port, group)
	}
	for _, p := range g.reg.Readers() {
		add(p, readerGroup)
	}
	for _, p := range g.reg.Builders {
		add(p, builderGroup)
	}
	for _, p := range g.reg.Aggregators {
		add(p, aggregatorGroup)
	}
	return b.String()
}

func (g *Generator) hostMap() fhicl.Seq {
	seq := make(fhicl.Seq, len(g.top.Hosts))
	for i, e := range g.top.Hosts {
		seq[i] = fhicl.NewTable().
			Set("rank", fhicl.Int(e.Rank)).
			Set("host", fhicl.String(e.Host)).
			Set("port", fhicl.Int(e.Port))
	}
	return seq
}

func (g *Generator) transfers(prefix, rankKey string, entries []daqctl.HostEntry) *fhicl.Table {
	t := fhicl.NewTable()
	for _, e := range entries {
		t.Set(fmt.Sprintf("%s%d", prefix, e.Rank), fhicl.NewTable().
			Set("transferPluginType", fhicl.Ident("TCPSocket")).
			Set(rankKey, fhicl.Int(e.Rank)).
			Set("max_fragment_size_words", fhicl.Int(g.params.FragmentSizeWords)).
			Set("host_map", g.hostMap()))
	}
	return t
}

func (g *Generator) sources(p *daqctl.Process) *fhicl.Table {
	return g.transfers("s", "source_rank", g.top.Wiring(p).Sources)
}

func (g *Generator) destinations(p *daqctl.Process) *fhicl.Table {
	return g.transfers("d", "destination_rank", g.top.Wiring(p).Destinations)
}

// routingTable returns the routing table configuration of a sender.
func (g *Generator) routingTable(p *daqctl.Process) *fhicl.Table {
	t := fhicl.NewTable()
	r := g.top.Routing
	if !r.Routes(p.Kind) {
		return t.Set("use_routing_master", fhicl.Bool(false))
	}
	return t.Set("use_routing_master", fhicl.Bool(true)).
		Set("table_update_port", fhicl.Int(r.TablePort)).
		Set("routing_master_hostname", fhicl.String(r.Host))
}

// tokenConfig returns the routing token configuration of a receiver.
func (g *Generator) tokenConfig(p *daqctl.Process) *fhicl.Table {
	t := fhicl.NewTable()
	r := g.top.Routing
	if !r.Receives(p.Kind) {
		return t.Set("use_routing_master", fhicl.Bool(false))
	}
	return t.Set("use_routing_master", fhicl.Bool(true)).
		Set("routing_token_port", fhicl.Int(r.TokenPort)).
		Set("routing_master_hostname", fhicl.String(r.Host))
}

func (g *Generator) services(destinations, routing *fhicl.Table) *fhicl.Table {
	transport := fhicl.NewTable().Set("service_provider", fhicl.Ident("NetMonTransportService"))
	if destinations != nil {
		transport.Set("destinations", destinations)
	}
	if routing != nil {
		transport.Set("routing_table_config", routing)
	}
	return fhicl.NewTable().
		Set("scheduler", fhicl.NewTable().
			Set("fileMode", fhicl.Ident("NOMERGE")).
			Set("errorOnFailureToPut", fhicl.Bool(false))).
		Set("NetMonTransportServiceInterface", transport)
}

func (g *Generator) physics() *fhicl.Table {
	t := fhicl.NewTable()
	t.Set("analyzers", fhicl.NewTable())
	t.Set("producers", fhicl.NewTable())
	t.Set("filters", fhicl.NewTable().
		Set("prescaleMod2", fhicl.NewTable().Set("module_type", fhicl.Ident("NthEvent")).Set("nth", fhicl.Int(2))).
		Set("prescaleMod3", fhicl.NewTable().Set("module_type", fhicl.Ident("NthEvent")).Set("nth", fhicl.Int(3))))
	t.Set("pmod2", fhicl.Seq{fhicl.Ident("prescaleMod2")})
	t.Set("pmod3", fhicl.Seq{fhicl.Ident("prescaleMod3")})
	return t
}

// viewer adds the waveform viewer modules to analyzers. The viewer
// displays the fragments of every board, ordered by board id.
func (g *Generator) viewer(ctx context.Context, analyzers *fhicl.Table) error {
	ids := make([]int, len(g.reg.Boards))
	for i, b := range g.reg.Boards {
		ids[i] = b.ID
	}
	sort.Ints(ids)
	text, err := g.include(ctx, viewerDoc, false)
	if err != nil {
		return err
	}
	analyzers.Set("app", fhicl.NewTable().
		Set("module_type", fhicl.Ident("RootApplication")).
		Set("force_new", fhicl.Bool(true)))
	analyzers.Set("wf", fhicl.NewTable().
		Set("module_type", fhicl.Ident("WFViewer")).
		Set("fragment_ids", fhicl.Ints(ids)).
		Include(text))
	return nil
}
