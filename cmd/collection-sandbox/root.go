package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/Ratio1/collection_sdk_go/internal/devseed"
	"github.com/Ratio1/collection_sdk_go/internal/logger"
	"github.com/Ratio1/collection_sdk_go/internal/sandbox"
	"github.com/Ratio1/collection_sdk_go/pkg/collection/mock"
)

type serveOptions struct {
	addr      string
	seed      string
	latency   time.Duration
	fail      string
	heartbeat time.Duration
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "collection-sandbox",
		Short:         "Local stand-in for the record collection backend",
		Long:          "Serves the records API, health check and realtime feed from an in-memory store, optionally seeded from a YAML or JSON file.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newCheckSeedCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sandbox server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", ":8090", "listen address")
	cmd.Flags().StringVar(&opts.seed, "seed", "", "path to a YAML or JSON seed file")
	cmd.Flags().DurationVar(&opts.latency, "latency", 0, "artificial latency added to every API request")
	cmd.Flags().StringVar(&opts.fail, "fail", "", "failure injection (rate=<0..1>,code=<httpStatus>)")
	cmd.Flags().DurationVar(&opts.heartbeat, "heartbeat", sandbox.DefaultHeartbeat, "realtime heartbeat interval")
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, opts *serveOptions) error {
	faults, err := sandbox.ParseFaults(opts.fail)
	if err != nil {
		return err
	}
	faults.Latency = opts.latency

	backend := mock.New()
	if opts.seed != "" {
		seed, err := devseed.Load(opts.seed)
		if err != nil {
			return err
		}
		if err := backend.Seed(seed); err != nil {
			return fmt.Errorf("apply seed: %w", err)
		}
	}

	log := logger.FromEnv().Named("sandbox")
	defer func() { _ = log.Sync() }()

	gin.SetMode(gin.ReleaseMode)
	srv := sandbox.New(backend, sandbox.Config{Faults: faults, Heartbeat: opts.heartbeat}, log)

	host := opts.addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "export COLLECTION_RUNTIME_MODE=http")
	fmt.Fprintf(out, "export COLLECTION_API_URL=http://%s\n", host)
	fmt.Fprintln(out)

	return srv.Run(ctx, opts.addr)
}

func newCheckSeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check-seed <path>",
		Short: "Validate a seed file and print its record counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := devseed.Load(args[0])
			if err != nil {
				return err
			}
			backend := mock.New()
			if err := backend.Seed(seed); err != nil {
				return err
			}
			for _, name := range seed.Names() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", name, len(backend.Records(name)))
			}
			return nil
		},
	}
}
