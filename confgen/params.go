// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package confgen

// DefaultFragmentSizeWords is the default maximum fragment size, in
// words, of every reader. Readers are sized for a full event since
// the distribution of data among readers is not known in advance.
const DefaultFragmentSizeWords = 2097152

// DefaultOnmonModules are the online monitoring modules run when
// none are configured.
const DefaultOnmonModules = "[ app, wf ]"

// MetricLevels are the levels of the optional metric plugins. A zero
// level disables the plugin.
type MetricLevels struct {
	Ganglia     int
	MsgFacility int
	Graphite    int
}

// Params are the global run parameters that are embedded in
// generated documents.
type Params struct {
	// DataDir is the directory to which data and metric files are
	// written.
	DataDir string
	// RunNumber is the run number embedded in aggregator output.
	RunNumber string
	// WriteData enables output files.
	WriteData bool
	// Onmon enables the online monitoring modules.
	Onmon bool
	// OnmonModules is the module list run by online monitoring.
	OnmonModules string
	// OnmonFile, if set, is the file to which online monitoring
	// writes its output.
	OnmonFile string
	// OnmonPrescale is the event prescale applied by online
	// monitoring.
	OnmonPrescale int

	// FileSizeMB, FileDurationSeconds and FileEventCount are the
	// file (subrun) rollover thresholds. Zero disables a threshold.
	FileSizeMB          float64
	FileDurationSeconds int
	FileEventCount      int

	// FragmentSizeWords is the maximum fragment size of each board.
	FragmentSizeWords int

	Metrics MetricLevels
}

// withDefaults returns a copy of p with unset fields assigned their
// defaults.
func (p Params) withDefaults() Params {
	if p.DataDir == "" {
		p.DataDir = "/tmp"
	}
	if p.RunNumber == "" {
		p.RunNumber = "0101"
	}
	if p.OnmonModules == "" {
		p.OnmonModules = DefaultOnmonModules
	}
	if p.OnmonPrescale == 0 {
		p.OnmonPrescale = 1
	}
	if p.FragmentSizeWords == 0 {
		p.FragmentSizeWords = DefaultFragmentSizeWords
	}
	return p
}
