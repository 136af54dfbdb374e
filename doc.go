// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package daqctl implements the control plane of a distributed
	data-acquisition pipeline. A pipeline consists of independently
	running processes: board readers, which read raw data from one or
	more front-end boards; event builders, which assemble fragments
	from every reader into complete events; aggregators, which log or
	dispatch completed events; and an optional routing broker that
	assigns destinations dynamically.

	Processes are declared in a Registry. Boards that share a reader
	host and port are merged into a single BoardGroup, served by one
	reader process. Compile then computes the pipeline's Topology:
	each unit is assigned a data-plane rank in stage order, a host map
	is built, and every process's sources and destinations are
	resolved against it.

	The remaining pieces of the control plane live in subpackages:
	package fhicl models configuration documents; package confgen
	generates, merges and caches them; package daqrpc defines the
	remote command interface; and package runctl sequences run-control
	transitions across the pipeline.
*/
package daqctl
