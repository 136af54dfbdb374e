// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package daqrpc

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigmachine/rpc"
)

// Client is a Connector that reaches processes over HTTP.
type Client struct {
	rpc *rpc.Client
}

// NewClient returns a new client. Per-call deadlines are taken from
// the contexts passed to each command.
func NewClient() (*Client, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{Transport: transport}
	c, err := rpc.NewClient(func() *http.Client { return httpClient }, Prefix)
	if err != nil {
		return nil, err
	}
	return &Client{rpc: c}, nil
}

// Connect implements Connector.
func (c *Client) Connect(addr string) Commander {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &remote{client: c.rpc, addr: strings.TrimSuffix(addr, "/")}
}

type remote struct {
	client *rpc.Client
	addr   string
}

func (r *remote) call(ctx context.Context, method string, arg interface{}) (string, error) {
	var reply string
	err := r.client.Call(ctx, r.addr, ServiceName+"."+method, arg, &reply)
	if err != nil {
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			err = errors.E(errors.Timeout, method+" "+r.addr, err)
		case errors.Is(errors.Net, err):
		default:
			err = errors.E(method+" "+r.addr, err)
		}
	}
	return reply, err
}

func (r *remote) Init(ctx context.Context, doc string) (string, error) {
	return r.call(ctx, "Init", doc)
}

func (r *remote) Start(ctx context.Context, run string) (string, error) {
	return r.call(ctx, "Start", run)
}

func (r *remote) Stop(ctx context.Context) (string, error) {
	return r.call(ctx, "Stop", struct{}{})
}

func (r *remote) Pause(ctx context.Context) (string, error) {
	return r.call(ctx, "Pause", struct{}{})
}

func (r *remote) Resume(ctx context.Context) (string, error) {
	return r.call(ctx, "Resume", struct{}{})
}

func (r *remote) Shutdown(ctx context.Context) (string, error) {
	return r.call(ctx, "Shutdown", struct{}{})
}

func (r *remote) Status(ctx context.Context) (string, error) {
	return r.call(ctx, "Status", struct{}{})
}

func (r *remote) LegalCommands(ctx context.Context) (string, error) {
	return r.call(ctx, "LegalCommands", struct{}{})
}

func (r *remote) Report(ctx context.Context, key string) (string, error) {
	return r.call(ctx, "Report", key)
}
