// Command ibstream connects to a gateway, subscribes to tick-by-tick data for
// one contract and prints every queued event until interrupted. Events can
// also be published to a Redis stream, and client metrics served over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := defaultOptions()

	cmd := &cobra.Command{
		Use:   "ibstream",
		Short: "Stream tick-by-tick data from a gateway",
		Long: `ibstream connects to a TWS or IB gateway, requests tick-by-tick data
for one contract and prints each event as it is queued.

Press Ctrl+C to disconnect.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			return run(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.host, "host", "H", opts.host, "Gateway host")
	f.IntVarP(&opts.port, "port", "P", opts.port, "Gateway port")
	f.Int64VarP(&opts.clientID, "client-id", "C", opts.clientID, "Gateway client id")
	f.StringVarP(&opts.exchange, "exchange", "e", "", "Exchange (IDEALPRO for FX or SMART for stocks)")
	f.StringVarP(&opts.ticker, "ticker", "t", "", "Ticker symbol")
	f.StringVarP(&opts.contractType, "contract-type", "c", "", "Contract type: STK, OPT, FUT or CASH")
	f.StringVarP(&opts.currency, "currency", "b", opts.currency, "Currency")
	f.StringVarP(&opts.series, "series", "s", "", "Futures series: contract YYYYMM or last trade date YYYYMMDD")
	f.StringVar(&opts.tickType, "tick-type", opts.tickType, "Tick type: Last, AllLast, BidAsk or MidPoint")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address")
	f.StringVar(&opts.redisAddr, "redis-addr", "", "Publish events to Redis at this address instead of printing them")
	f.StringVar(&opts.redisStream, "redis-stream", opts.redisStream, "Redis stream name")
	f.Int64Var(&opts.redisMaxLen, "redis-max-len", opts.redisMaxLen, "Approximate Redis stream length cap; 0 disables trimming")
	f.StringVar(&opts.logLevel, "log-level", opts.logLevel, "Log level: debug, info, warn or error")

	_ = cmd.MarkFlagRequired("exchange")
	_ = cmd.MarkFlagRequired("ticker")
	_ = cmd.MarkFlagRequired("contract-type")

	return cmd
}
