// Package listener implements the ingest service's startup orchestration:
// bind one TCP listener per configured entry, spawn an accept loop
// for each, share one set of detector services across every connection,
// and tear down cleanly on shutdown.
package listener

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/fleettrack/ingestd/internal/config"
	"github.com/fleettrack/ingestd/internal/session"
)

// DepsFactory builds the shared session.Deps for one configured listener,
// tagging it with that listener's protocol.
type DepsFactory func(protocol string) session.Deps

// Orchestrator binds every configured listener and runs their accept loops
// until its context is canceled.
type Orchestrator struct {
	listeners   []config.Listener
	depsFor     DepsFactory
	metricsAddr string
	log         *logrus.Entry
}

// New builds an Orchestrator over cfg's listeners. metricsAddr, if
// non-empty, also binds an HTTP /metrics endpoint.
func New(cfg []config.Listener, depsFor DepsFactory, metricsAddr string, log *logrus.Entry) *Orchestrator {
	return &Orchestrator{listeners: cfg, depsFor: depsFor, metricsAddr: metricsAddr, log: log}
}

// Run binds and serves every TCP listener, logging UDP entries as
// unsupported, until ctx is canceled. It returns the first accept
// or bind error from any listener.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, l := range o.listeners {
		l := l
		switch l.Transport {
		case "", "tcp":
			g.Go(func() error { return o.serveTCP(ctx, l) })
		case "udp":
			o.log.WithFields(logrus.Fields{"port": l.Port, "protocol": l.Protocol}).
				Warn("udp transport is not supported; listener skipped")
		default:
			o.log.WithFields(logrus.Fields{"port": l.Port, "transport": l.Transport}).
				Warn("unknown transport; listener skipped")
		}
	}

	if o.metricsAddr != "" {
		g.Go(func() error { return o.serveMetrics(ctx) })
	}

	return g.Wait()
}

func (o *Orchestrator) serveTCP(ctx context.Context, l config.Listener) error {
	addr := fmt.Sprintf(":%d", l.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listener: bind %s (%s): %w", addr, l.Protocol, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log := o.log.WithFields(logrus.Fields{"port": l.Port, "protocol": l.Protocol})
	log.Info("listener bound")

	deps := o.depsFor(l.Protocol)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("listener: accept on %s: %w", addr, err)
			}
		}
		go session.New(deps, conn).Run(ctx)
	}
}

func (o *Orchestrator) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: o.metricsAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	o.log.WithField("addr", o.metricsAddr).Info("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listener: metrics server: %w", err)
	}
	return nil
}
