// Package config declares the YAML run definition: which backend executes
// the call graph, how the Q-network and policy head are shaped, and how the
// update scheduler, replay memory and sample collectors are tuned. The CLI
// loads a definition, validates it, and hands it to the agent unchanged.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"plexus/pkg/graph"
	"plexus/pkg/nnet"
	"plexus/pkg/policy"
	"plexus/pkg/space"
)

// RunDef is the top-level structure for declaring a training run.
type RunDef struct {
	Run         string     `yaml:"run"`
	Description string     `yaml:"description,omitempty"`
	Backend     string     `yaml:"backend,omitempty"`
	Seed        int64      `yaml:"seed,omitempty"`
	Space       SpaceDef   `yaml:"space"`
	Network     NetworkDef `yaml:"network"`
	Policy      PolicyDef  `yaml:"policy,omitempty"`
	Update      UpdateDef  `yaml:"update"`
	Memory      MemoryDef  `yaml:"memory,omitempty"`
	Sampler     SamplerDef `yaml:"sampler,omitempty"`
}

// SpaceDef declares the action space the policy emits into.
type SpaceDef struct {
	Kind  string `yaml:"kind"`
	Shape []int  `yaml:"shape"`
}

// NetworkDef declares the dense Q-network stack.
type NetworkDef struct {
	Inputs int        `yaml:"inputs"`
	Layers []LayerDef `yaml:"layers"`
}

// LayerDef declares one dense layer.
type LayerDef struct {
	Units      int    `yaml:"units"`
	Activation string `yaml:"activation,omitempty"`
}

// PolicyDef declares the action-adapter variant and action selection mode.
type PolicyDef struct {
	Variant       string `yaml:"variant,omitempty"`
	MaxLikelihood bool   `yaml:"max_likelihood,omitempty"`
}

// UpdateDef tunes the update scheduler: discount and learning rate for the
// loss and optimizer, the target-sync cadence, and the replay pull size.
type UpdateDef struct {
	Discount     float64 `yaml:"discount"`
	LearningRate float64 `yaml:"learning_rate"`
	SyncInterval int     `yaml:"sync_interval"`
	BatchSize    int     `yaml:"batch_size"`
	Steps        int     `yaml:"steps,omitempty"`
}

// MemoryDef tunes the uniform replay memory.
type MemoryDef struct {
	Capacity int   `yaml:"capacity,omitempty"`
	Seed     int64 `yaml:"seed,omitempty"`
}

// SamplerDef tunes the synthetic experience collectors that feed the memory.
type SamplerDef struct {
	Workers      int  `yaml:"workers,omitempty"`
	BatchSize    int  `yaml:"batch_size,omitempty"`
	PackedStates bool `yaml:"packed_states,omitempty"`
}

// Load parses a YAML run definition and returns a RunDef.
func Load(data []byte) (*RunDef, error) {
	var def RunDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse run YAML: %w", err)
	}
	return &def, nil
}

// Encode serializes the definition back to YAML.
func (def *RunDef) Encode() ([]byte, error) {
	return yaml.Marshal(def)
}

// ActionSpace materializes the declared action space.
func (d SpaceDef) ActionSpace() (space.Space, error) {
	kind, err := space.ParseKind(d.Kind)
	if err != nil {
		return space.Space{}, err
	}
	return space.New(kind, d.Shape...)
}

// Specs converts the declared layers into network layer specs.
func (d NetworkDef) Specs() []nnet.LayerSpec {
	out := make([]nnet.LayerSpec, len(d.Layers))
	for i, l := range d.Layers {
		out[i] = nnet.LayerSpec{Units: l.Units, Activation: l.Activation}
	}
	return out
}

// Validate checks referential integrity of the run definition:
//   - run name is non-empty
//   - backend and space kind map to known implementations
//   - the network declares at least one layer, with known activations
//   - the policy variant parses and fits the action space
//   - update, memory and sampler tuning values are in range
func (def *RunDef) Validate() error {
	if def.Run == "" {
		return fmt.Errorf("run name is required")
	}
	if _, err := graph.NewBackend(def.Backend); err != nil {
		return err
	}

	sp, err := def.Space.ActionSpace()
	if err != nil {
		return err
	}

	if def.Network.Inputs < 1 {
		return fmt.Errorf("network inputs must be at least 1")
	}
	if len(def.Network.Layers) == 0 {
		return fmt.Errorf("at least one network layer is required")
	}
	for i, l := range def.Network.Layers {
		if l.Units < 1 {
			return fmt.Errorf("network layer %d: units must be at least 1", i)
		}
		if _, err := nnet.Activation(l.Activation); err != nil {
			return fmt.Errorf("network layer %d: %w", i, err)
		}
	}

	variant, err := policy.ParseVariant(def.Policy.Variant)
	if err != nil {
		return err
	}
	if sp.Kind() == space.Continuous && variant != policy.VariantPlain {
		return fmt.Errorf("variant %q requires a discrete action space", variant)
	}

	if def.Update.Discount < 0 || def.Update.Discount > 1 {
		return fmt.Errorf("update discount must be in [0, 1]")
	}
	if def.Update.LearningRate <= 0 {
		return fmt.Errorf("update learning_rate must be positive")
	}
	if def.Update.SyncInterval < 1 {
		return fmt.Errorf("update sync_interval must be at least 1")
	}
	if def.Update.BatchSize < 1 {
		return fmt.Errorf("update batch_size must be at least 1")
	}
	if def.Update.Steps < 0 {
		return fmt.Errorf("update steps must not be negative")
	}

	if def.Memory.Capacity < 0 {
		return fmt.Errorf("memory capacity must not be negative")
	}
	if def.Sampler.Workers < 0 {
		return fmt.Errorf("sampler workers must not be negative")
	}
	if def.Sampler.BatchSize < 0 {
		return fmt.Errorf("sampler batch_size must not be negative")
	}
	return nil
}
