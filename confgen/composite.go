// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package confgen

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/daqctl/fhicl"
)

// CompositeGenerator is the fragment generator that drives the
// per-board generators of a multi-board reader.
const CompositeGenerator = "CompositeDriver"

// compositeID is the fragment and board id of a composite reader.
const compositeID = 999

var (
	prologPattern = regexp.MustCompile(`(?s)^(.*?)BEGIN_PROLOG(.*?)END_PROLOG(.*)$`)
	sizePattern   = regexp.MustCompile(`max_fragment_size_words\s*:\s*(\S+)`)
)

// CompositeOptions are the topology parameters embedded in a
// composite document.
type CompositeOptions struct {
	// BuilderCount is the number of event builders.
	BuilderCount int
	// FirstBuilderRank is the rank of the first event builder.
	FirstBuilderRank int
}

// MergeComposite merges the per-board fragments of a multi-board
// reader into a single document. Prologs are stripped from each
// fragment and emitted once, de-duplicated by exact text in order of
// first appearance. The stripped fragments become the composite's
// generator list. The composite's max_fragment_size_words is the
// maximum of the fragments' values; values that do not parse as
// integers are logged and ignored. MergeComposite also returns that
// maximum.
func MergeComposite(fragments []string, opts CompositeOptions) (*fhicl.Document, int) {
	var (
		prologs   []string
		seen      = make(map[string]bool)
		list      = make(fhicl.Seq, 0, len(fragments))
		sizeWords int
	)
	for i, frag := range fragments {
		if m := prologPattern.FindStringSubmatch(frag); m != nil {
			prolog := m[2]
			frag = m[1] + m[3]
			if !seen[prolog] {
				seen[prolog] = true
				prologs = append(prologs, prolog)
			}
		}
		list = append(list, fhicl.Block(strings.TrimSpace(frag)))
		m := sizePattern.FindStringSubmatch(frag)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			log.Printf("warning: composite fragment %d: cannot parse max_fragment_size_words %q: %v", i, m[1], err)
			continue
		}
		if n > sizeWords {
			sizeWords = n
		}
	}
	fr := fhicl.NewTable().
		Set("mpi_buffer_count", fhicl.Int(opts.BuilderCount*8)).
		Set("first_event_builder_rank", fhicl.Int(opts.FirstBuilderRank)).
		Set("event_builder_count", fhicl.Int(opts.BuilderCount)).
		Set("generator", fhicl.Ident(CompositeGenerator)).
		Set("fragment_id", fhicl.Int(compositeID)).
		Set("board_id", fhicl.Int(compositeID)).
		Set("generator_config_list", list)
	body := fhicl.NewTable()
	body.Table("daq").
		Set("max_fragment_size_words", fhicl.Int(sizeWords)).
		Set("fragment_receiver", fr)
	return &fhicl.Document{Prolog: prologs, Body: body}, sizeWords
}
