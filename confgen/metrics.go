// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package confgen

import "github.com/grailbio/daqctl/fhicl"

// metrics returns the metrics table of a process. Every process
// writes metrics to a file, named by plugin; the ganglia, message
// facility and graphite plugins are added when their levels are
// nonzero.
func metrics(levels MetricLevels, plugin, fileName string) *fhicl.Table {
	t := fhicl.NewTable()
	t.Set(plugin, fhicl.NewTable().
		Set("metricPluginType", fhicl.String("file")).
		Set("level", fhicl.Int(3)).
		Set("fileName", fhicl.String(fileName)).
		Set("uniquify", fhicl.Bool(true)))
	if levels.Ganglia > 0 {
		t.Set("ganglia", fhicl.NewTable().
			Set("metricPluginType", fhicl.String("ganglia")).
			Set("level", fhicl.Int(levels.Ganglia)).
			Set("reporting_interval", fhicl.Float(15)).
			Set("configFile", fhicl.String("/etc/ganglia/gmond.conf")).
			Set("group", fhicl.String("ARTDAQ")))
	}
	if levels.MsgFacility > 0 {
		t.Set("msgfac", fhicl.NewTable().
			Set("level", fhicl.Int(levels.MsgFacility)).
			Set("metricPluginType", fhicl.String("msgFacility")).
			Set("output_message_application_name", fhicl.String("ARTDAQ Metric")).
			Set("output_message_severity", fhicl.Int(0)))
	}
	if levels.Graphite > 0 {
		t.Set("graphite", fhicl.NewTable().
			Set("level", fhicl.Int(levels.Graphite)).
			Set("metricPluginType", fhicl.String("graphite")).
			Set("host", fhicl.String("localhost")).
			Set("port", fhicl.Int(20030)).
			Set("namespace", fhicl.String("artdaq.")))
	}
	return t
}
