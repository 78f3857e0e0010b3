package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"plexus/pkg/graph"
	"plexus/pkg/policy"
)

var validateFlags struct {
	demo string
	file string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a run definition without building the graph",
	RunE:  runValidate,
}

func init() {
	f := validateCmd.Flags()
	f.StringVar(&validateFlags.demo, "demo", "", "Built-in demo run name")
	f.StringVarP(&validateFlags.file, "file", "f", "", "Run definition YAML path")
}

func runValidate(cmd *cobra.Command, _ []string) error {
	def, _, err := loadDef(validateFlags.demo, validateFlags.file)
	if err != nil {
		return err
	}
	sp, err := def.Space.ActionSpace()
	if err != nil {
		return err
	}
	variant, err := policy.ParseVariant(def.Policy.Variant)
	if err != nil {
		return err
	}
	backend := def.Backend
	if backend == "" {
		backend = graph.GraphBackend
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %q is valid\n", def.Run)
	fmt.Fprintf(out, "  backend:      %s\n", backend)
	fmt.Fprintf(out, "  action space: %s (%d actions)\n", sp, sp.FlatDim())
	fmt.Fprintf(out, "  network:      %d inputs, %d layers\n", def.Network.Inputs, len(def.Network.Layers))
	fmt.Fprintf(out, "  policy:       %s\n", variant)
	fmt.Fprintf(out, "  update:       batch %d, sync every %d rounds, discount %g\n",
		def.Update.BatchSize, def.Update.SyncInterval, def.Update.Discount)
	return nil
}
