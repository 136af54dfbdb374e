// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package daqctl

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
)

// WriteSummary writes a human-readable summary of the registry to w.
// Processes are listed per host, hosts in order of first
// declaration, and ordered by port within each host. Ranks are
// printed once the registry has been compiled.
func (r *Registry) WriteSummary(w io.Writer) {
	var (
		hosts  []string
		byHost = make(map[string][]*Process)
	)
	for _, p := range r.Processes() {
		if _, ok := byHost[p.Host]; !ok {
			hosts = append(hosts, p.Host)
		}
		byHost[p.Host] = append(byHost[p.Host], p)
	}
	var tw tabwriter.Writer
	tw.Init(w, 4, 4, 1, ' ', 0)
	fmt.Fprintln(&tw, "configuration summary:")
	for _, host := range hosts {
		procs := byHost[host]
		sort.SliceStable(procs, func(i, j int) bool { return procs[i].Port < procs[j].Port })
		fmt.Fprintf(&tw, "  %s:\n", host)
		for _, p := range procs {
			fmt.Fprintf(&tw, "\t%s\tport %d\t%s\t%s\n", p.Label(), p.Port, rankString(p.Rank), details(p))
		}
		tw.Flush()
	}
	tw.Flush()
}

func rankString(rank int) string {
	if rank < 0 {
		return "unranked"
	}
	return fmt.Sprintf("rank %d", rank)
}

func details(p *Process) string {
	switch p.Kind {
	case KindReader:
		var s string
		for i, b := range p.Group.Boards {
			if i > 0 {
				s += ", "
			}
			s += fmt.Sprintf("%s board_id %d generator %s", b.Kind, b.ID, b.GeneratorName())
			if b.ConfigFile != "" {
				s += " config_file " + b.ConfigFile
			}
		}
		return s
	case KindBuilder:
		return fmt.Sprintf("compression %d send_triggers %v", p.Builder.CompressionLevel, p.Builder.SendTriggers)
	case KindAggregator:
		role := "data logger"
		if p.Aggregator.Dispatcher {
			role = "dispatcher"
		}
		return fmt.Sprintf("%s bunch %d compression %d", role, p.Aggregator.BunchSize, p.Aggregator.CompressionLevel)
	case KindRouter:
		return fmt.Sprintf("routes %s", p.Router.Mode)
	}
	return ""
}
