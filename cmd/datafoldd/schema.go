package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/datafold/datafold/internal/node"
	"github.com/datafold/datafold/internal/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Manage schemas directly against a node's storage directory",
	Long: `schema subcommands open the node's storage directory directly rather
than going through the HTTP surface, the way a local administration tool
operates on an embedded database file.`,
}

var schemaLoadCmd = &cobra.Command{
	Use:   "load -f <file.yaml>",
	Short: "Load a schema definition from a YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		raw, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read schema file: %w", err)
		}
		var s schema.Schema
		if err := yaml.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("failed to parse schema file: %w", err)
		}

		n, closeFn, err := openLocalNode(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := n.Schemas.LoadSchema(&s); err != nil {
			return fmt.Errorf("failed to load schema: %w", err)
		}
		fmt.Printf("schema %q loaded (state=%s)\n", s.Name, s.State)
		return nil
	},
}

var schemaApproveCmd = &cobra.Command{
	Use:   "approve <name>",
	Short: "Approve a loaded schema, running cycle detection and rebuilding the transform graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, closeFn, err := openLocalNode(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := n.ApproveSchema(args[0]); err != nil {
			return fmt.Errorf("failed to approve schema: %w", err)
		}
		fmt.Printf("schema %q approved\n", args[0])
		return nil
	},
}

var schemaBlockCmd = &cobra.Command{
	Use:   "block <name>",
	Short: "Block a schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, closeFn, err := openLocalNode(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := n.Schemas.Block(args[0]); err != nil {
			return fmt.Errorf("failed to block schema: %w", err)
		}
		fmt.Printf("schema %q blocked\n", args[0])
		return nil
	},
}

var schemaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schemas by lifecycle state",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, closeFn, err := openLocalNode(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		for _, st := range []schema.State{schema.StateAvailable, schema.StateApproved, schema.StateBlocked} {
			schemas := n.Schemas.ListByState(st)
			fmt.Printf("%s (%d):\n", st, len(schemas))
			for _, s := range schemas {
				fmt.Printf("  - %s\n", s.Name)
			}
		}
		return nil
	},
}

func init() {
	schemaLoadCmd.Flags().StringP("file", "f", "", "YAML file containing the schema definition (required)")
	_ = schemaLoadCmd.MarkFlagRequired("file")

	schemaCmd.AddCommand(schemaLoadCmd)
	schemaCmd.AddCommand(schemaApproveCmd)
	schemaCmd.AddCommand(schemaBlockCmd)
	schemaCmd.AddCommand(schemaListCmd)
}

// openLocalNode opens a Node over --data-dir for the lifetime of one CLI
// invocation; callers must invoke the returned close function.
func openLocalNode(cmd *cobra.Command) (*node.Node, func(), error) {
	cfg, err := loadNodeConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	n, err := node.Open(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open node storage at %q: %w", cfg.StoragePath, err)
	}
	return n, func() { n.Close() }, nil
}
