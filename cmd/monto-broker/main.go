// Package main is the monto-broker entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/monto-broker/broker/internal/broker"
	"github.com/monto-broker/broker/internal/config"
	"github.com/monto-broker/broker/internal/logging"
)

// Exit codes, per spec.md §6.4.
const (
	exitNormal      = 0
	exitCLIMisuse   = 1
	exitConfigError = 2
	exitFatalStart  = 3
	exitSIGINT      = 130
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "monto-broker",
		Short:         "Monto broker: mediates between editor clients and analysis services",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to monto-broker.toml (default: search standard locations)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(validateConfigCmd())
	rootCmd.AddCommand(dumpConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCLIMisuse)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the broker, serving the ClientAPI until shutdown",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(doServe())
		},
	}
}

func doServe() int {
	cfg, found, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return exitConfigError
	}
	log := logging.New(cfg.Log)
	if !found {
		log.Warn("no monto-broker.toml found, using defaults")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := broker.New(ctx, cfg, log)
	if err != nil {
		log.Error("fatal startup error", "error", err)
		return exitFatalStart
	}

	if err := b.Run(ctx); err != nil {
		log.Error("broker run failed", "error", err)
		return exitFatalStart
	}
	if ctx.Err() != nil {
		return exitSIGINT
	}
	return exitNormal
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the broker's configured software version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.Load(configPath)
			if err != nil {
				return err
			}
			v := cfg.Version.SoftwareVersion()
			fmt.Printf("%s %d.%d.%d\n", v.ID, v.Major, v.Minor, v.Patch)
			return nil
		},
	}
}

func validateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate monto-broker.toml without starting the broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, found, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if !found {
				fmt.Println("no config file found; defaults are valid")
				return nil
			}
			fmt.Printf("config valid: %d service(s) configured\n", len(cfg.Service))
			return nil
		},
	}
}

func dumpConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump-config",
		Short: "Print the effective configuration (including defaults) as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.Load(configPath)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}
