package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/danmuck/balatrobot/internal/config"
	"github.com/danmuck/balatrobot/internal/logging"
	"github.com/danmuck/balatrobot/internal/protocol/session"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	Version   = "0.1.0"
	BuildTime string
)

var (
	configPath    string
	listenAddr    string
	adminAddr     string
	probeAddr     string
	templateKind  string
	templateOut   string
	templateForce bool
)

var rootCmd = &cobra.Command{
	Use:   "botctl",
	Short: "botctl hosts the game peer connection",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// .env is optional; it only feeds logging and config env overrides.
		_ = godotenv.Load()
		logging.ConfigureRuntime()
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "listen for the game peer and keep its session alive",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig()
		if err != nil {
			return err
		}
		if listenAddr != "" {
			cfg.ListenAddr = listenAddr
		}
		if cmd.Flags().Changed("admin") {
			cfg.AdminListenAddr = adminAddr
		}
		return runServe(cmd.Context(), cfg)
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "dial a peer and report the screen it is on",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig()
		if err != nil {
			return err
		}
		phase, id, err := runProbe(cmd.Context(), probeAddr, cfg.Session)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "session %s: %s\n", id, phase)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "config file helpers",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "write a config template (service or runs)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteTemplate(templateOut, templateKind, templateForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s template to %s\n", templateKind, templateOut)
		return nil
	},
}

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "list request kinds and the responses they expect",
	Run: func(cmd *cobra.Command, args []string) {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tEXPECT\tREQUEST\tRESPONSE")
		for _, r := range session.Routes() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Kind, r.Expect, r.Request, r.Response)
		}
		_ = w.Flush()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print botctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Version: %s, BuildTime: %s\n", Version, BuildTime)
	},
}

func resolveConfig() (serviceConfig, error) {
	if configPath == "" {
		cfg := defaultServiceConfig()
		cfg.applyEnv()
		cfg.Session = cfg.Session.WithDefaults()
		return cfg, nil
	}
	return loadServiceConfig(configPath)
}

func newRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to botctl config.toml")

	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "peer listen address (overrides config)")
	serveCmd.Flags().StringVar(&adminAddr, "admin", "", "admin api address, empty disables (overrides config)")

	probeCmd.Flags().StringVar(&probeAddr, "addr", "127.0.0.1:12345", "peer address to dial")

	configInitCmd.Flags().StringVar(&templateKind, "kind", "service", "template kind: service or runs")
	configInitCmd.Flags().StringVarP(&templateOut, "out", "o", "config.toml", "output path")
	configInitCmd.Flags().BoolVar(&templateForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(serveCmd, probeCmd, configCmd, routesCmd, versionCmd)
	return rootCmd
}

func main() {
	if err := executeWithSignals(newRootCmd()); err != nil {
		fmt.Fprintf(os.Stderr, "botctl: %v\n", err)
		os.Exit(1)
	}
}
