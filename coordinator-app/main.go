package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/compose-network/zksafe/coordinator-app/config"
	"github.com/compose-network/zksafe/log"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "zksafe-coordinator",
		Short: "ZK Safe coordinator",
		Long: banner + "\n\nCoordinates ZK-owned Safe deployment, approval proofs and " +
			"threshold proof aggregation for private multisig execution.",
		RunE:         runApp,
		SilenceUsage: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run:   runVersion,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}

	printDefaultsCmd = &cobra.Command{
		Use:   "print-defaults",
		Short: "Print the default configuration as YAML",
		RunE:  runPrintDefaults,
	}
)

const banner = `
███████╗██╗  ██╗    ███████╗ █████╗ ███████╗███████╗
╚══███╔╝██║ ██╔╝    ██╔════╝██╔══██╗██╔════╝██╔════╝
  ███╔╝ █████╔╝     ███████╗███████║█████╗  █████╗
 ███╔╝  ██╔═██╗     ╚════██║██╔══██║██╔══╝  ██╔══╝
███████╗██║  ██╗    ███████║██║  ██║██║     ███████╗
╚══════╝╚═╝  ╚═╝    ╚══════╝╚═╝  ╚═╝╚═╝     ╚══════╝`

func main() {
	if err := execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	initCommands()
	return rootCmd.Execute()
}

func initCommands() {
	// Add subcommands
	configCmd.AddCommand(printDefaultsCmd)
	rootCmd.AddCommand(versionCmd, configCmd)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config",
		"coordinator-app/configs/config.yaml", "config file path (empty for defaults and env only)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "enable pretty logging")

	// Server flags
	rootCmd.PersistentFlags().String("listen-addr", "", "API listen address")
	rootCmd.PersistentFlags().Bool("cors", false, "enable permissive CORS")

	// Backend flags
	rootCmd.PersistentFlags().String("rpc-endpoint", "", "Ethereum RPC endpoint")
	rootCmd.PersistentFlags().String("prover-url", "", "proving service base URL")
	rootCmd.PersistentFlags().String("db-driver", "", "database driver (sqlite, postgres)")
	rootCmd.PersistentFlags().String("db-dsn", "", "database DSN")

	// Metrics flags
	rootCmd.PersistentFlags().Bool("metrics", false, "enable metrics")
}

func runApp(cmd *cobra.Command, _ []string) error {
	fmt.Println(banner)
	fmt.Println()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	log := log.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Str("go_version", runtime.Version()).
		Msg("Build information")

	log.Info().
		Str("config_file", cfgFile).
		Str("listen_addr", cfg.API.ListenAddr).
		Str("db_driver", cfg.Database.Driver).
		Str("rpc_endpoint", cfg.Chain.RPCEndpoint).
		Str("prover_url", cfg.Prover.BaseURL).
		Bool("metrics_enabled", cfg.Metrics.Enabled).
		Str("log_level", cfg.Log.Level).
		Msg("Configuration loaded")

	application, err := NewApp(cmd.Context(), cfg, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(cmd.Context())
}

func runVersion(*cobra.Command, []string) {
	fmt.Println(banner)
	fmt.Println()
	fmt.Printf("ZK Safe Coordinator\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Printf("Go Version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func runPrintDefaults(cmd *cobra.Command, _ []string) error {
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(config.Default()); err != nil {
		return err
	}
	return enc.Close()
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flag("log-level").Changed {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flag("log-pretty").Changed {
		cfg.Log.Pretty, _ = cmd.Flags().GetBool("log-pretty")
	}

	if cmd.Flag("listen-addr").Changed {
		cfg.API.ListenAddr, _ = cmd.Flags().GetString("listen-addr")
	}
	if cmd.Flag("cors").Changed {
		cfg.API.EnableCORS, _ = cmd.Flags().GetBool("cors")
	}

	if cmd.Flag("rpc-endpoint").Changed {
		cfg.Chain.RPCEndpoint, _ = cmd.Flags().GetString("rpc-endpoint")
	}
	if cmd.Flag("prover-url").Changed {
		cfg.Prover.BaseURL, _ = cmd.Flags().GetString("prover-url")
	}
	if cmd.Flag("db-driver").Changed {
		cfg.Database.Driver, _ = cmd.Flags().GetString("db-driver")
	}
	if cmd.Flag("db-dsn").Changed {
		cfg.Database.DSN, _ = cmd.Flags().GetString("db-dsn")
	}

	if cmd.Flag("metrics").Changed {
		cfg.Metrics.Enabled, _ = cmd.Flags().GetBool("metrics")
	}
}
