// Command fakegateway runs the in-process test gateway on a TCP port so
// clients can be exercised without a real TWS or IB gateway.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyberinferno/go-ibclient/codec"
	"github.com/cyberinferno/go-ibclient/internal/fakegateway"
	"github.com/cyberinferno/go-ibclient/logger"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		addr          string
		serverVersion int
		nextValidID   int64
		accounts      string
		clockEvery    time.Duration
		logLevel      string
	)

	cmd := &cobra.Command{
		Use:           "fakegateway",
		Short:         "Run a scripted gateway for local testing",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.NewConsoleLogger("fakegateway", logger.ParseLevel(logLevel))
			defer func() { _ = log.Close() }()

			gw := &fakegateway.Server{
				Addr:          addr,
				ServerVersion: serverVersion,
				NextValidID:   nextValidID,
				Accounts:      splitAccounts(accounts),
				Logger:        log,
			}
			if err := gw.Start(); err != nil {
				return err
			}
			defer gw.Stop()
			fmt.Fprintf(cmd.OutOrStdout(), "fake gateway listening on %s\n", gw.Address())

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			serve(ctx, gw, clockEvery)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&addr, "addr", "127.0.0.1:4002", "Listen address")
	f.IntVar(&serverVersion, "server-version", 176, "Server version sent in the handshake reply")
	f.Int64Var(&nextValidID, "next-valid-id", 1, "First request id handed to clients")
	f.StringVar(&accounts, "accounts", "DU12345", "Comma separated managed accounts")
	f.DurationVar(&clockEvery, "clock-every", 0, "Push the gateway clock to every client at this interval; 0 disables")
	f.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")

	return cmd
}

// serve blocks until ctx ends, pushing the clock when every is positive.
func serve(ctx context.Context, gw *fakegateway.Server, every time.Duration) {
	if every <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			gw.PushFields(codec.InCurrentTime, 1, now.Unix())
		}
	}
}

func splitAccounts(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
