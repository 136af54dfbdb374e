// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package daqflags

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/daqctl"
)

// BuilderDecl declares an event builder.
type BuilderDecl struct {
	Host    string
	Port    int
	Options daqctl.BuilderOptions
}

// AggregatorDecl declares an aggregator.
type AggregatorDecl struct {
	Host    string
	Port    int
	Options daqctl.AggregatorOptions
}

// RouterDecl declares the routing master.
type RouterDecl struct {
	Host    string
	Port    int
	Options daqctl.RouterOptions
}

// Decls holds process declarations, in the order in which they were
// made.
type Decls struct {
	Boards      []daqctl.Board
	Builders    []BuilderDecl
	Aggregators []AggregatorDecl
	Router      *RouterDecl
}

// Register declares every process of d in reg.
func (d *Decls) Register(reg *daqctl.Registry) {
	for _, b := range d.Boards {
		reg.AddBoard(b)
	}
	for _, eb := range d.Builders {
		reg.AddBuilder(eb.Host, eb.Port, eb.Options)
	}
	for _, ag := range d.Aggregators {
		reg.AddAggregator(ag.Host, ag.Port, ag.Options)
	}
	if d.Router != nil {
		reg.SetRouter(d.Router.Host, d.Router.Port, d.Router.Options)
	}
}

// fields splits a comma-separated flag value, checking that it has
// between min and max fields.
func fields(what, v string, min, max int) ([]string, error) {
	f := strings.Split(v, ",")
	for i := range f {
		f[i] = strings.TrimSpace(f[i])
	}
	if len(f) < min || len(f) > max {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("%s %q: expected %d to %d comma-separated fields", what, v, min, max))
	}
	return f, nil
}

func atoi(what, field, v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("%s: bad %s %q", what, field, v))
	}
	return n, nil
}

// parseBool parses a boolean field; 0 and 1 are accepted.
func parseBool(what, field, v string) (bool, error) {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.E(errors.Invalid, fmt.Sprintf("%s: bad %s %q", what, field, v))
	}
	return b, nil
}

// BoardFlag is a flag.Value that declares boards of a single kind,
// as host,port,board_id[,config_file]. Boards of all kinds are
// appended to a shared list, so that their declaration order
// follows the command line.
type BoardFlag struct {
	Kind   daqctl.BoardKind
	decls  *Decls
	values []string
}

// String implements flag.Value.
func (f *BoardFlag) String() string {
	if f == nil {
		return ""
	}
	return strings.Join(f.values, " ")
}

// Set implements flag.Value.
func (f *BoardFlag) Set(v string) error {
	what := "-" + strings.ToLower(string(f.Kind))
	parts, err := fields(what, v, 3, 4)
	if err != nil {
		return err
	}
	b := daqctl.Board{Kind: f.Kind, Host: parts[0]}
	if b.Port, err = atoi(what, "port", parts[1]); err != nil {
		return err
	}
	if b.ID, err = atoi(what, "board id", parts[2]); err != nil {
		return err
	}
	if len(parts) > 3 {
		b.ConfigFile = parts[3]
	}
	f.decls.Boards = append(f.decls.Boards, b)
	f.values = append(f.values, v)
	return nil
}

// BuilderFlag is a flag.Value that declares event builders, as
// host,port,compression_level[,send_triggers].
type BuilderFlag struct {
	decls  *Decls
	values []string
}

// String implements flag.Value.
func (f *BuilderFlag) String() string {
	if f == nil {
		return ""
	}
	return strings.Join(f.values, " ")
}

// Set implements flag.Value.
func (f *BuilderFlag) Set(v string) error {
	const what = "-eb"
	parts, err := fields(what, v, 3, 4)
	if err != nil {
		return err
	}
	eb := BuilderDecl{Host: parts[0]}
	if eb.Port, err = atoi(what, "port", parts[1]); err != nil {
		return err
	}
	if eb.Options.CompressionLevel, err = atoi(what, "compression level", parts[2]); err != nil {
		return err
	}
	if len(parts) > 3 {
		if eb.Options.SendTriggers, err = parseBool(what, "send_triggers", parts[3]); err != nil {
			return err
		}
	}
	f.decls.Builders = append(f.decls.Builders, eb)
	f.values = append(f.values, v)
	return nil
}

// AggregatorFlag is a flag.Value that declares aggregators, as
// host,port,bunch_size,compression_level[,prescale[,dispatcher]].
type AggregatorFlag struct {
	decls  *Decls
	values []string
}

// String implements flag.Value.
func (f *AggregatorFlag) String() string {
	if f == nil {
		return ""
	}
	return strings.Join(f.values, " ")
}

// Set implements flag.Value.
func (f *AggregatorFlag) Set(v string) error {
	const what = "-ag"
	parts, err := fields(what, v, 4, 6)
	if err != nil {
		return err
	}
	ag := AggregatorDecl{Host: parts[0]}
	if ag.Port, err = atoi(what, "port", parts[1]); err != nil {
		return err
	}
	if ag.Options.BunchSize, err = atoi(what, "bunch size", parts[2]); err != nil {
		return err
	}
	if ag.Options.CompressionLevel, err = atoi(what, "compression level", parts[3]); err != nil {
		return err
	}
	if len(parts) > 4 {
		if ag.Options.DemoPrescale, err = atoi(what, "prescale", parts[4]); err != nil {
			return err
		}
	}
	if len(parts) > 5 {
		if ag.Options.Dispatcher, err = parseBool(what, "dispatcher", parts[5]); err != nil {
			return err
		}
	}
	f.decls.Aggregators = append(f.decls.Aggregators, ag)
	f.values = append(f.values, v)
	return nil
}

// RouterFlag is a flag.Value that declares the routing master, as
// host,port[,mode]. The mode is "builders" (route events from
// builders to aggregators, the default) or "readers" (route
// fragments from board readers to builders).
type RouterFlag struct {
	decls *Decls
	value string
}

// String implements flag.Value.
func (f *RouterFlag) String() string {
	if f == nil {
		return ""
	}
	return f.value
}

// Set implements flag.Value.
func (f *RouterFlag) Set(v string) error {
	const what = "-rm"
	if f.decls.Router != nil {
		return errors.E(errors.Invalid, "-rm: only one routing master may be declared")
	}
	parts, err := fields(what, v, 2, 3)
	if err != nil {
		return err
	}
	rm := &RouterDecl{Host: parts[0]}
	if rm.Port, err = atoi(what, "port", parts[1]); err != nil {
		return err
	}
	if len(parts) > 2 {
		if rm.Options.Mode, err = daqctl.ParseRoutingMode(parts[2]); err != nil {
			return err
		}
	}
	f.decls.Router = rm
	f.value = v
	return nil
}
