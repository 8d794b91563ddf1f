package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	clientcmd "github.com/rzbill/mediaflo/internal/cmd/client"
	serverrun "github.com/rzbill/mediaflo/internal/cmd/server"
	cfgpkg "github.com/rzbill/mediaflo/internal/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mediaflo",
		Short: "mediaflo stream distribution engine",
		Long:  "mediaflo ingests media streams into a durable log and fans them out to live and late readers.",
	}

	// server start
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the server (HTTP, gRPC and optional RESP)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := serverrun.Run(ctx, serverrun.Options{Config: cfg}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	addServerFlags(serverStartCmd)
	serverCmd.AddCommand(serverStartCmd)

	// config print
	configCmd := &cobra.Command{Use: "config", Short: "Configuration commands"}
	configPrintCmd := &cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", cfg)
			return err
		},
	}
	addServerFlags(configPrintCmd)
	configCmd.AddCommand(configPrintCmd)

	rootCmd.AddCommand(serverCmd, configCmd, clientcmd.NewStreamCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addServerFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", os.Getenv("MEDIAFLO_CONFIG"), "Config file (yaml, json or toml)")
	cmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	cmd.Flags().String("http", "", "HTTP listen address")
	cmd.Flags().String("grpc", "", "gRPC listen address")
	cmd.Flags().String("resp", "", "RESP gateway listen address (pebble backend only)")
	cmd.Flags().String("backend", "", "Storage backend: pebble|redis")
	cmd.Flags().String("redis", "", "Redis address for the redis backend")
	cmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	cmd.Flags().String("log-format", "", "Log format: text|json")
}

// loadConfig reads the config file and environment, then applies flags
// that were set explicitly.
func loadConfig(cmd *cobra.Command) (cfgpkg.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfg, err
	}
	set := func(flag string, dst *string) {
		if cmd.Flags().Changed(flag) {
			*dst, _ = cmd.Flags().GetString(flag)
		}
	}
	set("data-dir", &cfg.Storage.DataDir)
	set("http", &cfg.Server.HTTPAddr)
	set("grpc", &cfg.Server.GRPCAddr)
	set("resp", &cfg.Server.RESPAddr)
	set("backend", &cfg.Storage.Backend)
	set("redis", &cfg.Redis.Addr)
	set("log-level", &cfg.Log.Level)
	set("log-format", &cfg.Log.Format)
	return cfg, cfg.Validate()
}
