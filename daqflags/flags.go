// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package daqflags provides the command line flags of daqctl: process
// declarations, run parameters, and XML run configuration files.
package daqflags

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/daqctl"
	"github.com/grailbio/daqctl/confgen"
	"github.com/grailbio/daqctl/runctl"
)

// boardKinds lists the board kinds that may be declared on the
// command line. Preconfigured board readers are declared only by
// run configuration files.
var boardKinds = []daqctl.BoardKind{
	daqctl.V1720, daqctl.V1724, daqctl.TOY1, daqctl.TOY2, daqctl.ASCII, daqctl.UDP,
}

// OnmonFlag is a flag.Value that configures online monitoring, as
// enabled[,file_enabled,file_path].
type OnmonFlag struct {
	Enabled     bool
	FileEnabled bool
	File        string
}

// String implements flag.Value.
func (f *OnmonFlag) String() string {
	if f == nil || !f.Enabled {
		return "0"
	}
	if !f.FileEnabled {
		return "1"
	}
	return "1,1," + f.File
}

// Set implements flag.Value.
func (f *OnmonFlag) Set(v string) error {
	const what = "-m"
	parts, err := fields(what, v, 1, 3)
	if err != nil {
		return err
	}
	if f.Enabled, err = parseBool(what, "enabled", parts[0]); err != nil {
		return err
	}
	if len(parts) > 1 {
		if f.FileEnabled, err = parseBool(what, "file_enabled", parts[1]); err != nil {
			return err
		}
	}
	if len(parts) > 2 {
		f.File = parts[2]
	}
	return nil
}

// Flags holds the command line configuration of daqctl.
type Flags struct {
	decls Decls

	Boards      []*BoardFlag
	Builders    BuilderFlag
	Aggregators AggregatorFlag
	Router      RouterFlag

	// ConfigFile is an XML run configuration file. Its declarations
	// precede those made by flags; its run parameters apply unless
	// the corresponding flag is set.
	ConfigFile string
	// BasePort is the base port of the processes declared in
	// ConfigFile. It defaults to the value of PortEnv.
	BasePort int

	Command             string
	RunNumber           string
	RunMinutes          int
	RunEvents           int64
	FileSizeMB          float64
	FileDurationMinutes int
	FileEventCount      int
	DataDir             string
	Onmon               OnmonFlag
	OnmonFile           string
	WriteData           bool
	Summary             bool

	GangliaMetric, MsgFacilityMetric, GraphiteMetric int

	// CacheDir is the directory in which configuration documents
	// are stored; Force regenerates them.
	CacheDir    string
	Force       bool
	PortOffset  int
	Archive     string
	Trace       string
	Parallelism int

	HTTPAddress   cmdutil.NetworkAddressFlag
	ConsoleStatus bool

	// onmonModules is the online monitoring module list given by the
	// run configuration file.
	onmonModules string
	fs           *flag.FlagSet
	prefix       string
}

// RegisterFlags registers the daqctl command line flags with the
// supplied flag set. The flag names are prefixed with the supplied
// prefix.
func RegisterFlags(fs *flag.FlagSet, f *Flags, prefix string) {
	for _, kind := range boardKinds {
		bf := &BoardFlag{Kind: kind, decls: &f.decls}
		f.Boards = append(f.Boards, bf)
		name := strings.ToLower(string(kind))
		fs.Var(bf, prefix+name, fmt.Sprintf("declare a %s board as host,port,board_id[,config_file]; may be repeated", kind))
	}
	f.Builders.decls = &f.decls
	f.Aggregators.decls = &f.decls
	f.Router.decls = &f.decls
	fs.Var(&f.Builders, prefix+"eb", "declare an event builder as host,port,compression_level[,send_triggers]; may be repeated")
	fs.Var(&f.Aggregators, prefix+"ag", "declare an aggregator as host,port,bunch_size,compression_level[,prescale[,dispatcher]]; may be repeated")
	fs.Var(&f.Router, prefix+"rm", "declare the routing master as host,port[,builders|readers]")
	fs.StringVar(&f.ConfigFile, prefix+"config", "", "XML run configuration file")
	fs.IntVar(&f.BasePort, prefix+"base-port", -1, "base port of processes declared by the run configuration file; defaults to $"+PortEnv)

	fs.StringVar(&f.Command, prefix+"c", "", "command: generate, init, start, stop, pause, resume, shutdown, status, legal_commands")
	fs.StringVar(&f.RunNumber, prefix+"r", "0101", "run number")
	fs.IntVar(&f.RunMinutes, prefix+"t", 0, "stop the run after the specified number of minutes")
	fs.Int64Var(&f.RunEvents, prefix+"n", 0, "stop the run after the specified number of events")
	fs.Float64Var(&f.FileSizeMB, prefix+"f", 0, "close each data file when it reaches the specified size, in MB")
	fs.IntVar(&f.FileDurationMinutes, prefix+"file-duration", 0, "close each data file after the specified number of minutes")
	fs.IntVar(&f.FileEventCount, prefix+"file-event-count", 0, "close each data file after the specified number of events")
	fs.StringVar(&f.DataDir, prefix+"d", "", "directory to which data and metrics are written")
	fs.Var(&f.Onmon, prefix+"m", "online monitoring, as enabled[,file_enabled,file_path]")
	fs.StringVar(&f.OnmonFile, prefix+"onmon-file", "", "file to which online monitoring output is written")
	fs.BoolVar(&f.WriteData, prefix+"w", true, "write data to disk")
	fs.BoolVar(&f.Summary, prefix+"s", false, "print a summary of the configuration")
	fs.IntVar(&f.GangliaMetric, prefix+"ganglia-metric", 0, "level of the Ganglia metric plugin; 0 disables it")
	fs.IntVar(&f.MsgFacilityMetric, prefix+"msgfacility-metric", 0, "level of the MessageFacility metric plugin; 0 disables it")
	fs.IntVar(&f.GraphiteMetric, prefix+"graphite-metric", 0, "level of the Graphite metric plugin; 0 disables it")

	fs.StringVar(&f.CacheDir, prefix+"cache-dir", ".", "directory, local or S3, in which configuration documents are stored")
	fs.BoolVar(&f.Force, prefix+"force", false, "regenerate configuration documents even if they exist")
	fs.IntVar(&f.PortOffset, prefix+"port-offset", daqctl.DefaultPortOffset, "first data-plane port; rank r uses port offset+r")
	fs.StringVar(&f.Archive, prefix+"archive", "", "prefix, local or S3, to which configuration documents are archived on start")
	fs.StringVar(&f.Trace, prefix+"trace", "", "write a Chrome trace of command timings to this path")
	fs.IntVar(&f.Parallelism, prefix+"parallelism", 0, "maximum number of outstanding commands; 0 uses the configured default")
	fs.Var(&f.HTTPAddress, prefix+"http", "address of http status server")
	fs.BoolVar(&f.ConsoleStatus, prefix+"console-status", false, "print status to stdout")
	f.fs = fs
	f.prefix = prefix
}

// isSet tells whether the named flag was set on the command line.
func (f *Flags) isSet(name string) bool {
	if f.fs == nil {
		return false
	}
	var set bool
	f.fs.Visit(func(fl *flag.Flag) {
		if fl.Name == f.prefix+name {
			set = true
		}
	})
	return set
}

// Load reads the run configuration file, if any, and merges it
// with the command line. It should be called after the flag set is
// parsed.
func (f *Flags) Load(ctx context.Context) error {
	if f.ConfigFile == "" {
		return nil
	}
	base := f.BasePort
	if base < 0 {
		var err error
		if base, err = BasePort(); err != nil {
			return err
		}
	}
	config, err := ReadRunConfig(ctx, f.ConfigFile, base)
	if err != nil {
		return err
	}
	f.Merge(config)
	return nil
}

// Merge merges the run configuration config into f. The
// configuration's declarations precede those of the command line;
// its run parameters apply unless the corresponding flag is set.
func (f *Flags) Merge(config *RunConfig) {
	decls := config.Decls
	decls.Boards = append(decls.Boards, f.decls.Boards...)
	decls.Builders = append(decls.Builders, f.decls.Builders...)
	decls.Aggregators = append(decls.Aggregators, f.decls.Aggregators...)
	if f.decls.Router != nil {
		decls.Router = f.decls.Router
	}
	f.decls = decls
	if !f.isSet("d") && config.DataDir != "" {
		f.DataDir = config.DataDir
	}
	if !f.isSet("w") {
		f.WriteData = config.WriteData
	}
	if !f.isSet("m") {
		f.Onmon = OnmonFlag{Enabled: config.Onmon, FileEnabled: config.Onmon}
	}
	if !f.isSet("t") && !f.isSet("n") {
		f.RunEvents = config.RunLength.Events
		f.RunMinutes = 0
		if config.RunLength.Duration > 0 {
			f.RunMinutes = int(config.RunLength.Duration / time.Minute)
		}
	}
	if !f.isSet("f") && !f.isSet("file-duration") && !f.isSet("file-event-count") {
		f.FileSizeMB = config.FileSizeMB
		f.FileDurationMinutes = config.FileDurationSeconds / 60
		f.FileEventCount = config.FileEventCount
	}
	f.onmonModules = config.OnmonModules
}

// Registry returns a registry with every declared process.
func (f *Flags) Registry() (*daqctl.Registry, error) {
	reg := daqctl.NewRegistry()
	f.decls.Register(reg)
	if len(reg.Processes()) == 0 {
		return nil, errors.E(errors.Invalid, "no processes declared")
	}
	return reg, reg.Validate()
}

// Params returns the document generation parameters.
func (f *Flags) Params() confgen.Params {
	p := confgen.Params{
		DataDir:             f.DataDir,
		RunNumber:           f.RunNumber,
		WriteData:           f.WriteData,
		Onmon:               f.Onmon.Enabled,
		OnmonModules:        f.onmonModules,
		FileSizeMB:          f.FileSizeMB,
		FileDurationSeconds: f.FileDurationMinutes * 60,
		FileEventCount:      f.FileEventCount,
		Metrics: confgen.MetricLevels{
			Ganglia:     f.GangliaMetric,
			MsgFacility: f.MsgFacilityMetric,
			Graphite:    f.GraphiteMetric,
		},
	}
	switch {
	case f.OnmonFile != "":
		p.OnmonFile = f.OnmonFile
	case f.Onmon.FileEnabled:
		p.OnmonFile = f.Onmon.File
	}
	return p
}

// RunLength returns the configured run length. An event count takes
// precedence over a duration.
func (f *Flags) RunLength() runctl.RunLength {
	if f.RunEvents > 0 {
		return runctl.RunLength{Events: f.RunEvents}
	}
	return runctl.RunLength{Duration: time.Duration(f.RunMinutes) * time.Minute}
}

// Transition returns the requested command.
func (f *Flags) Transition() (runctl.Transition, error) {
	if f.Command == "" {
		return 0, errors.E(errors.Invalid, "no command given (-c)")
	}
	return runctl.ParseTransition(f.Command)
}

// TopologyOptions returns the topology compiler options.
func (f *Flags) TopologyOptions() daqctl.TopologyOptions {
	return daqctl.TopologyOptions{PortOffset: f.PortOffset}
}
