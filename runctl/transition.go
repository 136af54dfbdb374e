// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package runctl

import (
	"context"
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/daqctl/daqrpc"
)

// Transition is a run-control command issued to the pipeline.
type Transition int

const (
	// Generate produces the configuration documents of every
	// process without contacting any of them.
	Generate Transition = iota
	Init
	Start
	Stop
	Pause
	Resume
	Shutdown
	Status
	LegalCommands

	maxTransition
)

var transitionNames = [maxTransition]string{
	Generate:      "generate",
	Init:          "init",
	Start:         "start",
	Stop:          "stop",
	Pause:         "pause",
	Resume:        "resume",
	Shutdown:      "shutdown",
	Status:        "status",
	LegalCommands: "legal_commands",
}

func (t Transition) String() string {
	if t < 0 || t >= maxTransition {
		return fmt.Sprintf("Transition(%d)", t)
	}
	return transitionNames[t]
}

// ParseTransition returns the transition with the provided name.
// Dashes and underscores are interchangeable, and "get-legal-commands"
// is accepted as an alias of "legal_commands".
func ParseTransition(name string) (Transition, error) {
	key := strings.Replace(strings.ToLower(name), "-", "_", -1)
	if key == "get_legal_commands" {
		key = "legal_commands"
	}
	for t, tname := range transitionNames {
		if tname == key {
			return Transition(t), nil
		}
	}
	return 0, errors.E(errors.Invalid, fmt.Sprintf("unknown command %q", name))
}

// invoke issues transition t to cmd. Arg is the transition's
// argument: the configuration document for Init and the run number
// for Start.
func invoke(ctx context.Context, cmd daqrpc.Commander, t Transition, arg string) (string, error) {
	switch t {
	case Init:
		return cmd.Init(ctx, arg)
	case Start:
		return cmd.Start(ctx, arg)
	case Stop:
		return cmd.Stop(ctx)
	case Pause:
		return cmd.Pause(ctx)
	case Resume:
		return cmd.Resume(ctx)
	case Shutdown:
		return cmd.Shutdown(ctx)
	case Status:
		return cmd.Status(ctx)
	case LegalCommands:
		return cmd.LegalCommands(ctx)
	default:
		return "", errors.E(errors.Invalid, fmt.Sprintf("%s is not a remote command", t))
	}
}
