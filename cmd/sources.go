package main

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Inspect the source trust registry",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered sources with current trust",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sources := env.Registry.All()
		sort.Slice(sources, func(i, j int) bool {
			return sources[i].SourceID < sources[j].SourceID
		})

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sources)
	},
}

var sourcesShowCmd = &cobra.Command{
	Use:   "show <source-id>",
	Short: "Show one source's category, weight, and learned accuracy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		src, err := env.Engine.SourceTrust(args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(src)
	},
}

func init() {
	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesShowCmd)
	rootCmd.AddCommand(sourcesCmd)
}
