package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"solarmax-monitor/config"
	"solarmax-monitor/internal/api"
	"solarmax-monitor/internal/inverter"
	"solarmax-monitor/internal/logging"
	"solarmax-monitor/internal/metrics"
	"solarmax-monitor/internal/mqtt"
	"solarmax-monitor/internal/simulator"

	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFile string
	verbose    bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "solarmax-monitor",
		Short:         "SolarMax inverter monitor",
		Long:          "A tool to read SolarMax inverters over their TCP protocol",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(readCmd())
	rootCmd.AddCommand(testCmd())
	rootCmd.AddCommand(commandsCmd())
	rootCmd.AddCommand(publishCmd())
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, logging.New(cfg.Logging), nil
}

func newDevice(cfg *config.Config, opts ...inverter.Option) *inverter.SolarMax {
	return inverter.NewSolarMax(inverter.Config{
		Host:           cfg.Inverter.Host,
		Port:           cfg.Inverter.Port,
		Address:        cfg.Inverter.Address,
		ConnectTimeout: cfg.Inverter.ConnectTimeout,
		Timeout:        cfg.Inverter.Timeout,
		VerifyChecksum: cfg.Inverter.VerifyChecksum,
	}, opts...)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long:  "Serve live readings, the last-value cache and metrics over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if !cfg.API.Enabled {
				return errors.New("api is disabled in config")
			}

			reg := metrics.NewRegistry()
			device := newDevice(cfg,
				inverter.WithLogger(logger.Named("inverter")),
				inverter.WithMetrics(metrics.NewQueryMetrics(reg)),
			)

			server := api.NewServer(api.ServerConfig{
				Port:      cfg.API.Port,
				Device:    device,
				Registry:  reg,
				Logger:    logger.Named("api"),
				RateLimit: cfg.API.RateLimit,
				Burst:     cfg.API.Burst,
			})

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()

			logger.Info("SolarMax Monitor started. Press Ctrl+C to stop.",
				zap.String("inverter", fmt.Sprintf("%s:%d", cfg.Inverter.Host, cfg.Inverter.Port)),
				zap.Int("address", cfg.Inverter.Address))

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("API server error: %w", err)
			case <-ctx.Done():
			}

			logger.Info("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Stop(shutdownCtx)
		},
	}
}

func readCmd() *cobra.Command {
	var codes []int

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read registers once from the inverter",
		Long:  "Connect to the inverter, read the requested registers (default: all) and print them as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			device := newDevice(cfg, inverter.WithLogger(logger.Named("inverter")))
			if len(codes) == 0 {
				codes = inverter.Codes()
			}

			if err := device.Open(); err != nil {
				return err
			}
			defer device.Close()

			readings, err := device.QueryMany(codes)
			if err != nil {
				return fmt.Errorf("failed to read data: %w", err)
			}

			output, err := json.MarshalIndent(readings, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(output))
			return nil
		},
	}

	cmd.Flags().IntSliceVar(&codes, "code", nil, "register code to read (repeatable)")
	return cmd
}

func testCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test connection to the inverter",
		Long:  "Check that the inverter answers on the configured address",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Testing connection to %s:%d (address %d)...\n",
				cfg.Inverter.Host, cfg.Inverter.Port, cfg.Inverter.Address)

			device := newDevice(cfg, inverter.WithLogger(logger.Named("inverter")))
			if err := device.TestConnection(); err != nil {
				fmt.Fprintf(out, "Connection FAILED: %v\n", err)
				return err
			}

			fmt.Fprintln(out, "Connection SUCCESS!")

			readings, err := device.QueryMany(append([]int{inverter.CodeSoftwareVersion}, inverter.HeadlineCodes...))
			if err != nil {
				fmt.Fprintf(out, "Warning: Could not read data: %v\n", err)
				return nil
			}

			fmt.Fprintf(out, "\nCurrent Values:\n")
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for _, r := range readings {
				c, _ := inverter.Lookup(r.Code)
				fmt.Fprintf(w, "  %s\t%s %s\n", c.Description, r.Value, r.Unit)
			}
			return w.Flush()
		},
	}
}

func commandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List the readable registers",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tMNEMONIC\tSCALE\tUNIT\tDESCRIPTION")
			for _, c := range inverter.Commands() {
				desc := c.Description
				if c.Unverified {
					desc += " (unverified)"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", c.Code, c.Mnemonic, c.Scale, c.Unit, desc)
			}
			return w.Flush()
		},
	}
}

func publishCmd() *cobra.Command {
	var codes []int

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Read once and publish to MQTT",
		Long:  "Read the requested registers (default: the headline set) and publish them to the MQTT broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if !cfg.MQTT.Enabled {
				return errors.New("mqtt is disabled in config")
			}

			publisher, err := mqtt.NewPublisher(mqtt.PublisherConfig{
				Broker:      cfg.MQTT.Broker,
				ClientID:    cfg.MQTT.ClientID,
				Username:    cfg.MQTT.Username,
				Password:    cfg.MQTT.Password,
				TopicPrefix: cfg.MQTT.TopicPrefix,
				Enabled:     cfg.MQTT.Enabled,
				Address:     cfg.Inverter.Address,
				Logger:      logger.Named("mqtt"),
			})
			if err != nil {
				return err
			}
			defer publisher.Close()

			if cfg.MQTT.Discovery {
				if err := publisher.PublishHomeAssistantDiscovery(inverter.Commands()); err != nil {
					logger.Warn("Home Assistant discovery failed", zap.Error(err))
				}
			}

			if len(codes) == 0 {
				codes = inverter.HeadlineCodes
			}
			device := newDevice(cfg, inverter.WithLogger(logger.Named("inverter")))
			readings, err := device.QueryMany(codes)
			if err != nil {
				return fmt.Errorf("failed to read data: %w", err)
			}

			if err := publisher.Publish(readings); err != nil {
				return err
			}
			logger.Info("Published readings", zap.Int("count", len(readings)))
			return nil
		},
	}

	cmd.Flags().IntSliceVar(&codes, "code", nil, "register code to publish (repeatable)")
	return cmd
}

func simulateCmd() *cobra.Command {
	var (
		listen  string
		address int
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a simulated inverter",
		Long:  "Answer SolarMax requests from built-in register values, for testing without hardware",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if !cmd.Flags().Changed("address") {
				address = cfg.Inverter.Address
			}

			device := simulator.NewDevice(address, logger.Named("simulator"))
			addr, err := device.Listen(listen)
			if err != nil {
				return err
			}
			logger.Info("Simulator listening", zap.String("addr", addr.String()), zap.Int("address", address))

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				device.Close()
			}()

			return device.Serve()
		},
	}

	cmd.Flags().StringVar(&listen, "listen", ":12345", "address to listen on")
	cmd.Flags().IntVar(&address, "address", 1, "device address to answer for")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versioninfo.Short())
		},
	}
}
