package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/danmuck/castctl/internal/client"
	"github.com/danmuck/castctl/internal/config"
	"github.com/danmuck/castctl/internal/logging"
	"github.com/danmuck/castctl/internal/observability"
)

const defaultConfigPath = "castctl.toml"

type options struct {
	configPath  string
	host        string
	port        int
	metricsAddr string
	logLevel    string
	timeout     time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "castctl",
		Short: "Control cast receivers over the CASTV2 protocol",
		Long: `castctl talks to a cast receiver on its control port: query status,
launch or join applications, drive media playback, and set the volume.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "path to castctl.toml")
	flags.StringVar(&opts.host, "host", "", "device ip address (overrides device.host)")
	flags.IntVar(&opts.port, "port", 0, "device control port (overrides device.port)")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics on this address while the command runs")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (overrides log.level)")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall command timeout")

	root.AddCommand(
		statusCmd(opts),
		availabilityCmd(opts),
		launchCmd(opts),
		playCmd(opts),
		joinCmd(opts),
		pauseCmd(opts),
		resumeCmd(opts),
		seekCmd(opts),
		muteCmd(opts),
		volumeCmd(opts),
		stopCmd(opts),
		configCmd(),
	)
	return root
}

// load reads the config file when present and applies flag overrides.
// A missing default castctl.toml is not an error.
func (o *options) load(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	explicit := cmd.Flags().Changed("config")
	if _, err := os.Stat(o.configPath); err == nil || explicit {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if err := config.ApplyEnv(&cfg); err != nil {
		return config.Config{}, err
	}

	if o.host != "" {
		cfg.Device.Host = o.host
	}
	if o.port != 0 {
		cfg.Device.Port = o.port
	}
	if o.metricsAddr != "" {
		cfg.Metrics.Addr = o.metricsAddr
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	if cfg.Device.Host == "" {
		return config.Config{}, errors.New("no device host: set --host or device.host")
	}
	return cfg, nil
}

func configureLogging(cfg config.Config) {
	logging.ConfigureRuntime()
	if os.Getenv(logging.EnvLogLevel) != "" {
		return
	}
	if level, ok := logging.ParseLevel(cfg.Log.Level); ok {
		zerolog.SetGlobalLevel(level)
	}
}

// withClient connects to the configured device, runs fn, and closes the
// connection.
func (o *options) withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	cfg, err := o.load(cmd)
	if err != nil {
		return err
	}
	configureLogging(cfg)

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	c := client.New(cfg.Client())
	defer c.Close()

	if cfg.Metrics.Addr != "" {
		srv, err := observability.Serve(cfg.Metrics.Addr, observability.Router(time.Now(), func() error {
			select {
			case <-c.Done():
				if err := c.Err(); err != nil {
					return err
				}
				return errors.New("connection closed")
			default:
				return nil
			}
		}))
		if err != nil {
			return fmt.Errorf("serve metrics: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := c.Connect(ctx, cfg.Device.Host); err != nil {
		return err
	}
	return fn(ctx, c)
}
