// Command datafoldd runs a DataFold node: the embedded storage engine, the
// schema/transform/query subsystems, and the signature-authenticated HTTP
// surface of spec.md §6, all behind one process.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/datafold/datafold/internal/dflog"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "datafoldd",
	Short: "DataFold - a content-addressed schema-governed document store",
	Long: `datafoldd runs a single DataFold node: an embedded, content-addressed
atom store with a versioned schema/transform layer and a signature-authenticated
HTTP surface, delivered as one binary with zero external dependencies.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"datafoldd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "./datafold-data", "Storage directory for the embedded database")
	rootCmd.PersistentFlags().String("config", "", "Path to a node config YAML file (overrides flags below when set)")
	rootCmd.PersistentFlags().String("profile", "standard", "Signature-auth profile: strict, standard, or lenient")

	cobra.OnInitialize(func() {
		logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
		logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
		dflog.Init(dflog.Config{Level: dflog.Level(logLevel), JSONOutput: logJSON})
	})

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(configCmd)
}
