// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package daqrpc_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/grailbio/daqctl/daqrpc"
	"github.com/grailbio/daqctl/daqsim"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func serve(t *testing.T, cmd daqrpc.Commander) (daqrpc.Commander, func()) {
	t.Helper()
	handler, err := daqrpc.NewHandler(cmd)
	assert.NoError(t, err)
	srv := httptest.NewServer(handler)
	client, err := daqrpc.NewClient()
	assert.NoError(t, err)
	return client.Connect(strings.TrimPrefix(srv.URL, "http://")), srv.Close
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	sim := daqsim.New(daqsim.Options{Rate: 10})
	remote, done := serve(t, sim)
	defer done()

	reply, err := remote.Init(ctx, "daq: {}\n")
	assert.NoError(t, err)
	expect.EQ(t, reply, daqsim.Success)
	expect.EQ(t, sim.Document(), "daq: {}\n")

	reply, err = remote.Start(ctx, "42")
	assert.NoError(t, err)
	expect.EQ(t, reply, daqsim.Success)
	expect.EQ(t, sim.Run(), "42")

	reply, err = remote.Status(ctx)
	assert.NoError(t, err)
	expect.EQ(t, reply, "running")

	reply, err = remote.LegalCommands(ctx)
	assert.NoError(t, err)
	expect.EQ(t, reply, "pause stop shutdown")

	reply, err = remote.Report(ctx, daqrpc.RunDuration)
	assert.NoError(t, err)
	if daqrpc.NotReady(reply) {
		t.Errorf("unexpected sentinel %q", reply)
	}
	for _, cmd := range []func(context.Context) (string, error){remote.Pause, remote.Resume, remote.Stop, remote.Shutdown} {
		_, err := cmd(ctx)
		assert.NoError(t, err)
	}
	expect.EQ(t, sim.State(), daqsim.Booted)
}

func TestRemoteError(t *testing.T) {
	ctx := context.Background()
	remote, done := serve(t, daqsim.New(daqsim.Options{}))
	defer done()
	if _, err := remote.Stop(ctx); err == nil {
		t.Error("expected error")
	}
}

func TestTimeout(t *testing.T) {
	remote, done := serve(t, daqsim.New(daqsim.Options{Latency: time.Minute}))
	defer done()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := remote.Init(ctx, ""); err == nil {
		t.Error("expected error")
	}
}

func TestUnreachable(t *testing.T) {
	client, err := daqrpc.NewClient()
	assert.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Connect("127.0.0.1:1").Status(ctx); err == nil {
		t.Error("expected error")
	}
}

func TestNotReady(t *testing.T) {
	for _, c := range []struct {
		reply string
		want  bool
	}{
		{"busy", true},
		{"-1", true},
		{" -1\n", true},
		{"0", false},
		{"1200", false},
	} {
		if got := daqrpc.NotReady(c.reply); got != c.want {
			t.Errorf("%q: got %v, want %v", c.reply, got, c.want)
		}
	}
}
