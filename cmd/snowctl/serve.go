package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Niputi/snowtransfer/internal/auth"
	"github.com/Niputi/snowtransfer/internal/gateway"
	"github.com/Niputi/snowtransfer/internal/obs"
	"github.com/Niputi/snowtransfer/internal/proxy"
	"github.com/Niputi/snowtransfer/internal/rest"
)

type ServeCmd struct {
	Addr string `help:"Listen address. Overrides proxy.addr."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	e, err := load(cli, os.Stdout)
	if err != nil {
		return err
	}
	cfg := e.cfg
	if c.Addr != "" {
		cfg.Proxy.Addr = c.Addr
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		obs.NewBucketCollector(e.limiter.Buckets),
	)
	exec, metrics, err := e.executor(reg)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(rest.Version))
	})
	mux.HandleFunc("/buckets", func(w http.ResponseWriter, _ *http.Request) {
		active, wait := e.limiter.Global()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"global":  map[string]any{"active": active, "wait_ms": wait.Milliseconds()},
			"buckets": e.limiter.Buckets(),
		})
	})
	mux.Handle("/", proxy.Handler(exec, cfg.Proxy.StripPrefix))

	skip := map[string]struct{}{
		"/health":  {},
		"/version": {},
		"/buckets": {},
	}
	authStore := auth.NewStatic(cfg.Proxy.Auth.Header, cfg.Proxy.Auth.Pairs())

	handler := gateway.Chain(
		mux,
		obs.Logger(e.logger),
		gateway.TagRoute(cfg.Proxy.StripPrefix, skip),
		metrics.Middleware(skip),
		gateway.BodyLimit(cfg.Proxy.MaxBody()),
		authStore.Middleware(skip),
		gateway.ClientLimit(cfg.Proxy.ClientRPS, cfg.Proxy.ClientBurst, skip, func(id string) {
			e.logger.Warn().Str("client", id).Msg("client over its allowance")
		}),
	)

	// Requests blocked in a bucket queue only return when their context ends.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	servers := []*http.Server{{
		Addr:              cfg.Proxy.Addr,
		Handler:           handler,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Proxy.ReadTimeout(),
		WriteTimeout:      cfg.Proxy.WriteTimeout(),
		IdleTimeout:       cfg.Proxy.IdleTimeout(),
	}}
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Observability.PrometheusPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		servers = append(servers, &http.Server{Addr: addr, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second})
	} else {
		mux.Handle(cfg.Observability.PrometheusPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		skip[cfg.Observability.PrometheusPath] = struct{}{}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			e.logger.Info().Str("addr", srv.Addr).Msg("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			err := srv.Shutdown(shutdownCtx)
			if errors.Is(err, context.DeadlineExceeded) {
				if n := e.limiter.DropAll(); n > 0 {
					e.logger.Warn().Int("dropped", n).Msg("queued calls dropped on shutdown")
				}
				cancelBase()
				err = srv.Close()
			}
			if err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	err = g.Wait()
	e.logger.Info().Msg("bye")
	return err
}
