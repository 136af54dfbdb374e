// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package daqflags

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	"github.com/grailbio/daqctl"
	"github.com/grailbio/daqctl/runctl"
)

// PortEnv names the environment variable holding the base port of
// the processes declared by a run configuration file.
const PortEnv = "ARTDAQDEMO_PMT_PORT"

// RunConfig is a run configuration read from an XML run
// configuration file. The file declares a data logger, an online
// monitor, a set of preconfigured board readers and a number of
// event builders, together with the run's length and file rollover
// mode. Processes are assigned consecutive ports from a base port:
// the data logger is at base+1, the online monitor at base+2, and
// board readers and event builders follow from base+3.
type RunConfig struct {
	Author string
	Decls  Decls

	DataDir             string
	WriteData           bool
	Onmon               bool
	OnmonModules        string
	RunLength           runctl.RunLength
	FileSizeMB          float64
	FileDurationSeconds int
	FileEventCount      int
}

type xmlRunConfig struct {
	Author     string `xml:"author"`
	DataDir    string `xml:"dataDir"`
	DataLogger struct {
		Enabled   bool   `xml:"enabled"`
		Hostname  string `xml:"hostname"`
		RunMode   string `xml:"runMode"`
		RunValue  string `xml:"runValue"`
		FileMode  string `xml:"fileMode"`
		FileValue string `xml:"fileValue"`
	} `xml:"dataLogger"`
	OnlineMonitor struct {
		Enabled       bool   `xml:"enabled"`
		ViewerEnabled bool   `xml:"viewerEnabled"`
		Hostname      string `xml:"hostname"`
	} `xml:"onlineMonitor"`
	BoardReaders struct {
		Readers []xmlBoardReader `xml:",any"`
	} `xml:"boardReaders"`
	EventBuilders struct {
		Count     int      `xml:"count"`
		Compress  bool     `xml:"compress"`
		Hostnames []string `xml:"hostnames>hostname"`
	} `xml:"eventBuilders"`
}

type xmlBoardReader struct {
	Enabled    bool   `xml:"enabled"`
	Hostname   string `xml:"hostname"`
	Type       string `xml:"type"`
	Name       string `xml:"name"`
	ConfigFile string `xml:"configFile"`
	TypeConfig struct {
		Params []struct {
			XMLName xml.Name
			Value   string `xml:",chardata"`
		} `xml:",any"`
	} `xml:"typeConfig"`
}

// BasePort returns the base port given by the environment variable
// PortEnv, or zero if it is unset.
func BasePort() (int, error) {
	v := os.Getenv(PortEnv)
	if v == "" {
		return 0, nil
	}
	port, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("%s: bad port %q", PortEnv, v))
	}
	return port, nil
}

// ReadRunConfig reads the XML run configuration at path, which may
// be any path supported by package github.com/grailbio/base/file.
func ReadRunConfig(ctx context.Context, path string, basePort int) (config *RunConfig, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(errors.Invalid, "open run configuration", err)
	}
	defer fileio.CloseAndReport(fileCloser{ctx, f}, &err)
	config, err = ParseRunConfig(f.Reader(ctx), basePort)
	if err != nil {
		return nil, errors.E(err, path)
	}
	return config, nil
}

// fileCloser adapts a file.File to io.Closer.
type fileCloser struct {
	ctx context.Context
	f   file.File
}

func (c fileCloser) Close() error { return c.f.Close(c.ctx) }

// ParseRunConfig parses an XML run configuration from r.
func ParseRunConfig(r io.Reader, basePort int) (*RunConfig, error) {
	var x xmlRunConfig
	if err := xml.NewDecoder(r).Decode(&x); err != nil {
		return nil, errors.E(errors.Invalid, "parse run configuration", err)
	}
	config := &RunConfig{
		Author:       x.Author,
		DataDir:      x.DataDir,
		WriteData:    x.DataLogger.Enabled,
		Onmon:        x.OnlineMonitor.Enabled,
		OnmonModules: "[ wf ]",
	}
	if x.OnlineMonitor.ViewerEnabled {
		config.OnmonModules = "[ app, wf ]"
	}
	log.Printf("run configuration by %s; base port %d", x.Author, basePort)

	decls := &config.Decls
	decls.Aggregators = []AggregatorDecl{
		{Host: x.DataLogger.Hostname, Port: basePort + 1, Options: daqctl.AggregatorOptions{BunchSize: 1}},
		{Host: x.OnlineMonitor.Hostname, Port: basePort + 2, Options: daqctl.AggregatorOptions{BunchSize: 1, Dispatcher: true}},
	}
	port := basePort + 3
	for _, br := range x.BoardReaders.Readers {
		if !br.Enabled {
			continue
		}
		b := daqctl.Board{
			Kind:         daqctl.PBR,
			Host:         strings.TrimSpace(br.Hostname),
			Port:         port,
			ID:           len(decls.Boards),
			ConfigFile:   strings.TrimSpace(br.ConfigFile),
			FragmentType: strings.TrimSpace(br.Type),
			Name:         strings.TrimSpace(br.Name),
		}
		port++
		for _, param := range br.TypeConfig.Params {
			value := strings.TrimSpace(param.Value)
			if param.XMLName.Local == "generator_id" {
				b.Generator = value
				continue
			}
			b.TypeConfig = append(b.TypeConfig, param.XMLName.Local+": "+value)
		}
		if b.Generator == "" {
			kind, err := daqctl.ParseBoardKind(b.FragmentType)
			if err != nil {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("board reader %q: no generator_id and unknown type", b.Name), err)
			}
			b.Generator = kind.Generator()
		}
		decls.Boards = append(decls.Boards, b)
	}
	if n := x.EventBuilders.Count; n > 0 {
		hosts := x.EventBuilders.Hostnames
		if len(hosts) == 0 {
			return nil, errors.E(errors.Invalid, "eventBuilders: no hostnames")
		}
		var compression int
		if x.EventBuilders.Compress {
			compression = 1
		}
		for i := 0; i < n; i++ {
			decls.Builders = append(decls.Builders, BuilderDecl{
				Host:    strings.TrimSpace(hosts[i%len(hosts)]),
				Port:    port,
				Options: daqctl.BuilderOptions{CompressionLevel: compression},
			})
			port++
		}
	}

	var err error
	switch x.DataLogger.RunMode {
	case "Time":
		var secs int
		secs, err = atoi("runValue", "seconds", x.DataLogger.RunValue)
		config.RunLength.Duration = time.Duration(secs) * time.Second
	case "Events":
		var n int
		n, err = atoi("runValue", "event count", x.DataLogger.RunValue)
		config.RunLength.Events = int64(n)
	}
	if err != nil {
		return nil, err
	}
	switch x.DataLogger.FileMode {
	case "Size":
		config.FileSizeMB, err = strconv.ParseFloat(strings.TrimSpace(x.DataLogger.FileValue), 64)
		if err != nil {
			err = errors.E(errors.Invalid, fmt.Sprintf("fileValue: bad size %q", x.DataLogger.FileValue))
		}
	case "Time":
		config.FileDurationSeconds, err = atoi("fileValue", "seconds", x.DataLogger.FileValue)
	case "Events":
		config.FileEventCount, err = atoi("fileValue", "event count", x.DataLogger.FileValue)
	}
	if err != nil {
		return nil, err
	}
	return config, nil
}
