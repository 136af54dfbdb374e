// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command daqctl configures and drives a distributed data acquisition
// pipeline of board readers, event builders, aggregators and an
// optional routing master.
//
// Processes are declared with repeated flags, or by an XML run
// configuration file (-config):
//
//	daqctl -toy1 br01,5205,0 -toy2 br01,5205,1 \
//		-eb eb01,5235,0 -ag ag01,5265,1,0 -c init
//	daqctl ... -c start -r 1234 -n 100000
//	daqctl ... -c stop -n 100000
//
// The command (-c) is one of generate, init, start, stop, pause,
// resume, shutdown, status and legal_commands. Init generates each
// process's configuration document, or reads it from the cache
// directory, before sending it. Stop first waits until the run
// reaches the length given by -t or -n.
//
// Run-control tunables (timeouts, parallelism, and run-length
// polling) are read from the configuration profile
// $HOME/.daqctl/config, instance "daqctl/runctl", and may be
// overridden with -set.
package main

import "github.com/grailbio/daqctl/daqcmd"

func main() {
	daqcmd.Main()
}
