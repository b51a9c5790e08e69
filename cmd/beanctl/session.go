package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/bean-runtime/config"
	"github.com/wippyai/bean-runtime/container"
	"github.com/wippyai/bean-runtime/pool"
	"github.com/wippyai/bean-runtime/proxy"
	"github.com/wippyai/bean-runtime/stats"
	"github.com/wippyai/bean-runtime/tx"
	"github.com/wippyai/bean-runtime/wasmbean"
)

type sessionOptions struct {
	wasm    string
	config  string
	tx      string
	verbose bool
	// quiet discards logs, for the full-screen console
	quiet bool
}

// session is one deployed module and a proxy to it.
type session struct {
	log      *zap.Logger
	module   *wasmbean.Module
	c        *container.Container
	assembly *config.Assembly
	handler  *proxy.Handler
	id       string
}

func openSession(ctx context.Context, opts sessionOptions) (*session, error) {
	cfg := config.Default()
	if opts.config != "" {
		var err error
		if cfg, err = config.Load(opts.config); err != nil {
			return nil, err
		}
	}
	if opts.verbose {
		cfg.Logging.Level = "debug"
	}

	log := zap.NewNop()
	if !opts.quiet {
		var err error
		if log, err = cfg.Logging.Build(); err != nil {
			return nil, err
		}
	}
	wasmbean.SetLogger(log)
	stats.SetLogger(log)

	data, err := os.ReadFile(opts.wasm)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	mod, err := wasmbean.Compile(ctx, data)
	if err != nil {
		return nil, err
	}

	s := &session{
		log:      log,
		module:   mod,
		assembly: cfg.Assemble(log),
		id:       componentName(opts.wasm),
	}
	s.c = container.New(s.assembly.Options...)

	desc := mod.Component(s.id, s.id)
	cfg.Apply(desc)
	if opts.tx != "" {
		attr, err := tx.ParseAttribute(opts.tx)
		if err != nil {
			s.close(ctx)
			return nil, err
		}
		desc.DefaultAttribute = attr
	}
	if err := s.c.Deploy(ctx, desc); err != nil {
		s.close(ctx)
		return nil, err
	}
	if s.handler, err = s.c.Proxy(ctx, s.id, s.id); err != nil {
		s.close(ctx)
		return nil, err
	}
	return s, nil
}

// invoke calls method with textual arguments; the module parses them by
// the export's signature.
func (s *session) invoke(ctx context.Context, method string, args []string) (any, error) {
	in := make([]any, len(args))
	for i, a := range args {
		in[i] = a
	}
	return s.handler.Invoke(ctx, method, in...)
}

func (s *session) poolStats() pool.Stats {
	for _, st := range s.c.Stats() {
		if st.Component == s.id {
			return st
		}
	}
	return pool.Stats{Component: s.id}
}

func (s *session) close(ctx context.Context) {
	s.c.Close(ctx)
	if err := s.assembly.Close(); err != nil {
		s.log.Warn("close stats backend", zap.Error(err))
	}
	if err := s.module.Close(ctx); err != nil {
		s.log.Warn("close module", zap.Error(err))
	}
	_ = s.log.Sync()
}

// componentName derives the component id from the module file name.
func componentName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
