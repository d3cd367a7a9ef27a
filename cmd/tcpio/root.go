package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lcx/tcpio/config"
	"github.com/lcx/tcpio/log"
	"github.com/lcx/tcpio/metrics"
	tcpnet "github.com/lcx/tcpio/net"
	"github.com/lcx/tcpio/plugin"
)

var (
	// Global flags
	configDir   string
	environment string
	metricsAddr string

	// Connection overrides
	hostFlag string
	portFlag int

	// Shared state set during PersistentPreRun
	cm config.ConfigManager
)

// rootCmd is the base command for tcpio.
var rootCmd = &cobra.Command{
	Use:   "tcpio",
	Short: "Resilient point-to-point TCP envelope transport",
	Long: `tcpio runs one end of a point-to-point TCP connection that carries typed
data envelopes. The connection is re-established in the same role whenever it
is lost. Settings are read from <config-dir>/[<env>/]tcp_connection.yaml and
hot-reloaded on change.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cm = config.GetInstance()
		cm.SetBasePath(configDir)
		cm.SetEnvironment(environment)

		if err := log.InitializeWithConfigManager(cm); err != nil && !isNotFound(err) {
			return fmt.Errorf("failed to load logger config: %w", err)
		}
		if err := plugin.InitPlugins(cm); err != nil && !isNotFound(err) {
			return fmt.Errorf("failed to init plugins: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		plugin.DestroyPlugins()
		config.ResetInstance()
		log.Default().Close()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configDir, "config-dir", "./configs", "directory holding the yaml configuration")
	pf.StringVar(&environment, "env", "development", "environment subdirectory searched first")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	pf.StringVar(&hostFlag, "host", "", "peer host, overrides the config")
	pf.IntVar(&portFlag, "port", -1, "port to listen on or dial, overrides the config")

	rootCmd.AddCommand(serveCmd, connectCmd, runCmd, configCmd)
}

// Execute runs the root command. SIGINT and SIGTERM cancel its context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func isNotFound(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf)
}

// loadConnectionCfg reads tcp_connection from the config directory, falling
// back to defaults when there is no file. Flags override both.
// The returned bool reports whether the file exists and can be watched.
func loadConnectionCfg() (*tcpnet.ConnectionCfg, bool, error) {
	cfg := &tcpnet.ConnectionCfg{}
	loaded := true
	if err := cm.LoadConfig(tcpnet.ConnectionCfgName, cfg); err != nil {
		if !isNotFound(err) {
			return nil, false, err
		}
		log.Warn().Str("dir", configDir).Msg("no tcp_connection config found, using defaults")
		cfg = tcpnet.DefaultConnectionCfg()
		loaded = false
	}

	out := *cfg
	if hostFlag != "" {
		out.Host = hostFlag
	}
	if portFlag >= 0 {
		out.Port = portFlag
	}
	return &out, loaded, out.Validate()
}

// newManager builds a manager and subscribes it to config reloads when a file was loaded.
func newManager(out, in tcpnet.Queue, role string) (*tcpnet.Manager, *tcpnet.ConnectionCfg, error) {
	cfg, loaded, err := loadConnectionCfg()
	if err != nil {
		return nil, nil, err
	}
	m, err := tcpnet.NewManager(out, in, cfg, tcpnet.WithLogField("role", role))
	if err != nil {
		return nil, nil, err
	}
	if loaded {
		cm.AddChangeListener(m)
	}
	return m, cfg, nil
}

// serveMetrics runs the prometheus endpoint until ctx is done.
func serveMetrics(ctx context.Context) error {
	if metricsAddr == "" {
		return nil
	}
	srv := &http.Server{
		Addr:              metricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", metricsAddr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
