// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package daqrpc

import (
	"context"
	"net/http"

	"github.com/grailbio/bigmachine/rpc"
)

// Service exposes a Commander as an RPC service. Its methods follow
// the conventions of package github.com/grailbio/bigmachine/rpc.
type Service struct {
	cmd Commander
}

// NewService returns a service that forwards calls to cmd.
func NewService(cmd Commander) *Service {
	return &Service{cmd}
}

func (s *Service) Init(ctx context.Context, doc string, reply *string) (err error) {
	*reply, err = s.cmd.Init(ctx, doc)
	return
}

func (s *Service) Start(ctx context.Context, run string, reply *string) (err error) {
	*reply, err = s.cmd.Start(ctx, run)
	return
}

func (s *Service) Stop(ctx context.Context, _ struct{}, reply *string) (err error) {
	*reply, err = s.cmd.Stop(ctx)
	return
}

func (s *Service) Pause(ctx context.Context, _ struct{}, reply *string) (err error) {
	*reply, err = s.cmd.Pause(ctx)
	return
}

func (s *Service) Resume(ctx context.Context, _ struct{}, reply *string) (err error) {
	*reply, err = s.cmd.Resume(ctx)
	return
}

func (s *Service) Shutdown(ctx context.Context, _ struct{}, reply *string) (err error) {
	*reply, err = s.cmd.Shutdown(ctx)
	return
}

func (s *Service) Status(ctx context.Context, _ struct{}, reply *string) (err error) {
	*reply, err = s.cmd.Status(ctx)
	return
}

func (s *Service) LegalCommands(ctx context.Context, _ struct{}, reply *string) (err error) {
	*reply, err = s.cmd.LegalCommands(ctx)
	return
}

func (s *Service) Report(ctx context.Context, key string, reply *string) (err error) {
	*reply, err = s.cmd.Report(ctx, key)
	return
}

// NewHandler returns an HTTP handler that serves cmd at Prefix.
func NewHandler(cmd Commander) (http.Handler, error) {
	server := rpc.NewServer()
	if err := server.Register(ServiceName, NewService(cmd)); err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle(Prefix, server)
	return mux, nil
}
