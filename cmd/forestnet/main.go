// Forestnet runs and talks to forestNET endpoints.
//
// The serve command starts an endpoint in normal, dynamic, REST or SOAP
// mode. The remaining commands are clients: request sends a single HTTP
// request, download fetches a file with an integrity digest, calc calls the
// calculator SOAP service, and discover browses for advertised endpoints.
//
// Usage:
//
//	forestnet [command] [flags]
//
// See 'forestnet --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/forestnet/forestnet/internal/logging"
	"github.com/forestnet/forestnet/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "forestnet",
	Short: "forestNET endpoint server and client",
	Long: `Run and talk to forestNET endpoints.

An endpoint serves static files, dynamic pages rendered by a seed hook,
a REST resource tree or SOAP operations described by a WSDL document,
over plain TCP or TLS.

Settings come from defaults, then an optional YAML file (--config), then
FORESTNET_* environment variables, then command-line flags.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Initialize(logLevel)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); falls back to "+logging.LogLevelEnvVar+", logging is off when neither is set")

	rootCmd.AddCommand(versionCmd)
}

var versionYAML bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !versionYAML {
			fmt.Fprintf(cmd.OutOrStdout(), "forestnet %s\n", version.Full())
			for _, line := range version.Get().ModuleList() {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", line)
			}
			return nil
		}
		out, err := yaml.Marshal(version.Get())
		if err != nil {
			return fmt.Errorf("failed to marshal version: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionYAML, "yaml", false, "Print build details as YAML")
}
