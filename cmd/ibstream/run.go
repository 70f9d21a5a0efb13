package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/cyberinferno/go-ibclient/client"
	"github.com/cyberinferno/go-ibclient/event"
	"github.com/cyberinferno/go-ibclient/logger"
	"github.com/cyberinferno/go-ibclient/metrics"
	"github.com/cyberinferno/go-ibclient/model"
	"github.com/cyberinferno/go-ibclient/queue"
	"github.com/cyberinferno/go-ibclient/sink"
)

var (
	contractTypes = []string{"STK", "OPT", "FUT", "CASH"}
	tickTypes     = []string{"Last", "AllLast", "BidAsk", "MidPoint"}
)

type options struct {
	host         string
	port         int
	clientID     int64
	exchange     string
	ticker       string
	contractType string
	currency     string
	series       string
	tickType     string
	metricsAddr  string
	redisAddr    string
	redisStream  string
	redisMaxLen  int64
	logLevel     string
}

func defaultOptions() *options {
	return &options{
		host:        "127.0.0.1",
		port:        7497,
		clientID:    1,
		currency:    "USD",
		tickType:    "BidAsk",
		redisStream: "ibstream:events",
		redisMaxLen: 100000,
		logLevel:    "error",
	}
}

func (o *options) validate() error {
	if !slices.Contains(contractTypes, o.contractType) {
		return fmt.Errorf("invalid contract type %q, want one of %v", o.contractType, contractTypes)
	}
	if !slices.Contains(tickTypes, o.tickType) {
		return fmt.Errorf("invalid tick type %q, want one of %v", o.tickType, tickTypes)
	}
	if o.port <= 0 || o.port > 65535 {
		return fmt.Errorf("invalid port %d", o.port)
	}
	return nil
}

func (o *options) contract() model.Contract {
	return model.Contract{
		Symbol:                       o.ticker,
		SecType:                      o.contractType,
		Exchange:                     o.exchange,
		Currency:                     o.currency,
		LastTradeDateOrContractMonth: o.series,
	}
}

func run(ctx context.Context, opts *options, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.NewConsoleLogger("ibstream", logger.ParseLevel(opts.logLevel))
	defer func() { _ = log.Close() }()

	reg := prometheus.NewRegistry()
	cfg := client.DefaultConfig(opts.host, opts.port, opts.clientID)
	cfg.Logger = log
	cfg.Metrics = metrics.New(reg, "ibclient")
	c := client.New(cfg)

	if opts.metricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           newRouter(c, reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", logger.Field{Key: "error", Value: err.Error()})
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info("serving metrics", logger.Field{Key: "addr", Value: opts.metricsAddr})
	}

	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Disconnect(disconnectCtx)
	}()

	if err := c.WaitReady(ctx); err != nil {
		return fmt.Errorf("gateway not ready: %w", err)
	}
	if _, err := c.ReqTickByTickData(ctx, opts.contract(), opts.tickType, 0, false); err != nil {
		return fmt.Errorf("failed to request tick-by-tick data: %w", err)
	}

	var err error
	if opts.redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
		defer func() { _ = rdb.Close() }()
		err = sink.Pump(ctx, c.Events(), sink.NewRedisStream(rdb, opts.redisStream, opts.redisMaxLen), log)
	} else {
		err = printEvents(ctx, c.Events(), out)
	}

	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(out, "Ctrl+C pressed. Exiting.")
		return nil
	}
	return err
}

// printEvents writes one line per queued event until the connection closes.
func printEvents(ctx context.Context, events *queue.Queue[event.Stamped], out io.Writer) error {
	for {
		ev, err := events.Get(ctx)
		if err != nil {
			return err
		}

		fields, err := sink.Encode(ev)
		if err != nil {
			return err
		}
		ts := fields["ts"]
		if ts == "" {
			ts = "-"
		}
		fmt.Fprintf(out, "%s %s %s\n", ts, fields["kind"], fields["payload"])

		if _, closed := ev.Event.(event.ConnectionClosed); closed {
			return nil
		}
	}
}
