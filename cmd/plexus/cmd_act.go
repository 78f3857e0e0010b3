package main

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gorgonia.org/tensor"

	"plexus/pkg/graph"
	"plexus/pkg/nnet"
	"plexus/pkg/policy"
)

var actFlags struct {
	demo  string
	file  string
	count int
}

var actCmd = &cobra.Command{
	Use:   "act",
	Short: "Sample actions from an untrained policy",
	Long: "Builds just the policy component, traces its action path and feeds it\n" +
		"a few random states. Continuous action spaces work here even though\n" +
		"the training loop rejects them.",
	RunE: runAct,
}

func init() {
	f := actCmd.Flags()
	f.StringVar(&actFlags.demo, "demo", "", "Built-in demo run name")
	f.StringVarP(&actFlags.file, "file", "f", "", "Run definition YAML path")
	f.IntVarP(&actFlags.count, "count", "n", 5, "Number of random states to act on")
}

func runAct(cmd *cobra.Command, _ []string) error {
	def, _, err := loadDef(actFlags.demo, actFlags.file)
	if err != nil {
		return err
	}
	if actFlags.count < 1 {
		return fmt.Errorf("count must be at least 1")
	}
	sp, err := def.Space.ActionSpace()
	if err != nil {
		return err
	}
	variant, err := policy.ParseVariant(def.Policy.Variant)
	if err != nil {
		return err
	}
	net, err := nnet.NewDense("qnet", def.Network.Inputs, def.Network.Specs(), def.Seed)
	if err != nil {
		return err
	}
	popts := []policy.Option{policy.WithVariant(variant), policy.WithSeed(def.Seed)}
	if def.Policy.MaxLikelihood {
		popts = append(popts, policy.WithMaxLikelihood())
	}
	pol, err := policy.New("policy", net, sp, popts...)
	if err != nil {
		return err
	}
	backend, err := graph.NewBackend(def.Backend)
	if err != nil {
		return err
	}
	exec := graph.NewExecutor(backend)
	if err := exec.Build(pol.Component()); err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(def.Seed))
	data := make([]float64, actFlags.count*def.Network.Inputs)
	for i := range data {
		data[i] = rng.Float64()*2 - 1
	}
	states := tensor.New(tensor.WithShape(actFlags.count, def.Network.Inputs), tensor.WithBacking(data))

	res, err := exec.Execute(graph.Invocation{
		Method:  "get_action",
		Feeds:   []graph.Value{states, nnet.NoState},
		Returns: []int{0},
	}, nil)
	if err != nil {
		return err
	}
	actions, ok := res.First()[0].(*tensor.Dense)
	if !ok {
		return fmt.Errorf("action output is %T, want *tensor.Dense", res.First()[0])
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %q: %d actions from %s policy over %s\n", def.Run, actFlags.count, variant, sp)
	for i := 0; i < actFlags.count; i++ {
		row, err := actionRow(actions, i)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  state %d -> action %s\n", i, row)
	}
	return nil
}

// actionRow formats one row of the action tensor: [n] index draws for
// discrete spaces, [n, dim] vectors for continuous ones.
func actionRow(actions *tensor.Dense, i int) (string, error) {
	data, ok := actions.Data().([]float64)
	if !ok {
		return "", fmt.Errorf("action backing is %T, want []float64", actions.Data())
	}
	shape := actions.Shape()
	if len(shape) == 1 {
		return strconv.Itoa(int(data[i])), nil
	}
	dim := shape[len(shape)-1]
	row := data[i*dim : (i+1)*dim]
	parts := make([]string, len(row))
	for j, v := range row {
		parts[j] = strconv.FormatFloat(v, 'g', 4, 64)
	}
	return "[" + strings.Join(parts, ", ") + "]", nil
}
