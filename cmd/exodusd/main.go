// Command exodusd is the executor daemon. It serves the built-in tools on a
// Unix socket, usually from inside the tool container.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/exodus/config"
	"github.com/hupe1980/exodus/driver"
	"github.com/hupe1980/exodus/executor"
	"github.com/hupe1980/exodus/logging"
	"github.com/hupe1980/exodus/tool"
	"github.com/hupe1980/exodus/tool/builtin"
)

var (
	configPath  string
	socketPath  string
	workers     int
	connTimeout time.Duration
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "exodusd",
	Short: "Executor daemon for exodus tools",
	Long: `exodusd listens on a Unix socket and executes tools on behalf of exodus
sessions. Every connection carries one request and one response.

Stop it with SIGINT or SIGTERM; in-flight requests are finished first.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         serve,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file (default: $EXODUS_CONFIG or ./exodus.toml)")
	rootCmd.Flags().StringVar(&socketPath, "socket", "", "Socket path (default: [executor] socket_path)")
	rootCmd.Flags().IntVar(&workers, "workers", 0, "Concurrent connections (default: [executor] workers)")
	rootCmd.Flags().DurationVar(&connTimeout, "conn-timeout", 0, "Per-connection deadline (default: [executor] conn_timeout)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if socketPath != "" {
		cfg.Executor.SocketPath = socketPath
	}
	if workers > 0 {
		cfg.Executor.Workers = workers
	}
	if connTimeout > 0 {
		cfg.Executor.ConnTimeout = connTimeout
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	lc := cfg.LoggerConfig("exodusd")
	if verbose {
		lc.Level = logging.LogLevelDebug
	}
	lc.Output = cmd.ErrOrStderr()
	logger := logging.NewLogger(lc)

	reg := tool.NewRegistry(func(o *tool.RegistryOptions) { o.Logger = logger })
	if err := builtin.Register(reg); err != nil {
		return err
	}

	srv := executor.NewServer(cfg.Executor.SocketPath, reg, func(o *executor.Options) {
		o.Workers = cfg.Executor.Workers
		o.ConnTimeout = cfg.Executor.ConnTimeout
		o.Driver = driver.NewLocal(func(d *driver.Options) {
			d.Timeout = cfg.Agent.ToolTimeout
			d.Logger = logger
		})
		o.Logger = logger
	})
	if err := srv.Listen(); err != nil {
		return err
	}
	logger.Info("exodusd.started", "socket", srv.Addr(), "workers", cfg.Executor.Workers, "tools", reg.Len())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		return srv.Close()
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("exodusd.stopped", "socket", srv.Addr())
	return nil
}
