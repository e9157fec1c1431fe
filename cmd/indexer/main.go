// File: cmd/indexer/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartdevs17/web3rsvp-indexer/internal/config"
	"github.com/smartdevs17/web3rsvp-indexer/internal/connection"
	"github.com/smartdevs17/web3rsvp-indexer/internal/ipfs"
	"github.com/smartdevs17/web3rsvp-indexer/internal/storage"
)

// AppVersion contains the application version; overridden at build time
var AppVersion = "1.0.0"

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:          "web3rsvp-indexer",
	Short:        "Web3RSVP contract indexer",
	Long:         `Indexes Web3RSVP contract events into accounts, events, RSVPs and confirmations, and serves them over a read-only HTTP API.`,
	Version:      AppVersion,
	SilenceUsage: true,
	RunE:         runIndexer,
}

// loadConfig reads and validates the configuration, applying CLI overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if viper.IsSet("log-level") {
		cfg.Logging.Level = viper.GetString("log-level")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runIndexer is the main command: follow the chain and serve the API
func runIndexer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer app.Close()

	ctx, stop := signalContext()
	defer stop()

	if err := app.Run(ctx); err != nil {
		return fmt.Errorf("application stopped: %w", err)
	}

	app.logger.Info("Application stopped")
	return nil
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Web3RSVP Indexer %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Node: %s (%d backups)\n", cfg.Chain.NodeURL, len(cfg.Chain.BackupNodes))
		fmt.Printf("Contract: %s from block %d\n", cfg.Chain.ContractAddress, cfg.Chain.StartBlock)
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		fmt.Printf("IPFS gateway: %s\n", cfg.IPFS.GatewayURL)

		return nil
	},
}

// backfillCmd processes a fixed block range once
var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Index a fixed block range and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetUint64("from")
		to, _ := cmd.Flags().GetUint64("to")
		if to < from {
			return fmt.Errorf("--to (%d) must not be below --from (%d)", to, from)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		app, err := NewApplication(cfg)
		if err != nil {
			return fmt.Errorf("failed to create application: %w", err)
		}
		defer app.Close()

		ctx, stop := signalContext()
		defer stop()

		return app.Backfill(ctx, from, to)
	},
}

// testCmd checks connectivity to the node, the database and the IPFS gateway
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test connectivity and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		fmt.Printf("Testing node connection to %s...\n", cfg.Chain.NodeURL)
		conn := connection.NewConnectionManager(&cfg.Chain)
		defer conn.Close()
		if err := conn.HealthCheck(ctx); err != nil {
			return fmt.Errorf("failed to connect to node: %w", err)
		}
		stats := conn.Stats()
		fmt.Printf("✓ Node connection successful (network %d, head %d)\n", stats.NetworkID, stats.LatestBlock)

		fmt.Printf("Testing storage connection (%s)...\n", cfg.Storage.Type)
		store, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		if err := store.Connect(); err != nil {
			return fmt.Errorf("failed to connect to storage: %w", err)
		}
		defer store.Close()
		if err := store.Ping(); err != nil {
			return fmt.Errorf("failed to ping storage: %w", err)
		}
		fmt.Println("✓ Storage connection successful")

		if cid, _ := cmd.Flags().GetString("cid"); cid != "" {
			fmt.Printf("Fetching %s through %s...\n", ipfs.MetadataPath(cid), cfg.IPFS.GatewayURL)
			fetcher := ipfs.NewGatewayFetcher(&ipfs.GatewayConfig{
				GatewayURL: cfg.IPFS.GatewayURL,
				Timeout:    cfg.IPFS.Timeout,
				MaxSize:    cfg.IPFS.MaxSize,
			})
			data, err := fetcher.Cat(ctx, ipfs.MetadataPath(cid))
			if err != nil {
				return fmt.Errorf("failed to fetch metadata: %w", err)
			}
			if _, ok := ipfs.ParseMetadata(data); !ok {
				return fmt.Errorf("metadata for %s is not a JSON object", cid)
			}
			fmt.Println("✓ Metadata fetch successful")
		}

		fmt.Println("\nAll connectivity tests passed! ✓")
		return nil
	},
}

// init initializes the CLI commands
func init() {
	// Add persistent flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")

	// Bind flags to viper
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	backfillCmd.Flags().Uint64("from", 0, "first block to index")
	backfillCmd.Flags().Uint64("to", 0, "last block to index")
	backfillCmd.MarkFlagRequired("from")
	backfillCmd.MarkFlagRequired("to")

	testCmd.Flags().String("cid", "", "event data CID to fetch as a gateway check")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(testCmd)
	configCmd.AddCommand(validateConfigCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
