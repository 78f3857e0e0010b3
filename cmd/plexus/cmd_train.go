package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"plexus/internal/agent"
	"plexus/internal/config"
	"plexus/internal/logging"
	"plexus/internal/sample"
	"plexus/internal/store"
)

var trainFlags struct {
	demo        string
	file        string
	steps       int
	dbPath      string
	noStore     bool
	metricsAddr string
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train an agent on synthetic experience",
	Long: "Runs the Ape-X style update loop: sampler workers collect synthetic\n" +
		"transitions into replay memory, and each update round pulls a batch,\n" +
		"applies the double-Q step and syncs the target network on cadence.\n" +
		"Progress and per-step losses are persisted so a run can be resumed.",
	RunE: runTrain,
}

func init() {
	f := trainCmd.Flags()
	f.StringVar(&trainFlags.demo, "demo", "", "Built-in demo run name")
	f.StringVarP(&trainFlags.file, "file", "f", "", "Run definition YAML path")
	f.IntVar(&trainFlags.steps, "steps", 0, "Override the definition's update step count")
	f.StringVar(&trainFlags.dbPath, "db", store.DefaultDBPath, "SQLite run database path")
	f.BoolVar(&trainFlags.noStore, "no-store", false, "Skip run persistence")
	f.StringVar(&trainFlags.metricsAddr, "metrics", "", "Serve Prometheus metrics on this address (e.g. :9090)")
}

func runTrain(cmd *cobra.Command, _ []string) error {
	def, raw, err := loadDef(trainFlags.demo, trainFlags.file)
	if err != nil {
		return err
	}
	steps := def.Update.Steps
	if trainFlags.steps > 0 {
		steps = trainFlags.steps
	}
	log := logging.New("train")

	var st store.Store
	var run *store.Run
	if !trainFlags.noStore {
		st, err = store.Open(trainFlags.dbPath)
		if err != nil {
			return fmt.Errorf("open run store: %w", err)
		}
		defer st.Close()
		run, err = st.GetRunByName(def.Run)
		if err != nil {
			return err
		}
		if run == nil {
			if run, err = st.CreateRun(def.Run, raw); err != nil {
				return err
			}
			log.Info("created run", "run", def.Run, "id", run.ID)
		} else {
			log.Info("resuming run", "run", def.Run, "id", run.ID, "steps", run.Steps)
		}
	}

	reg := prometheus.NewRegistry()
	a, err := agent.New(def, agent.WithMetrics(agent.NewMetrics(reg)))
	if err != nil {
		return err
	}
	if run != nil {
		if err := a.Restore(agent.Snapshot{Steps: run.Steps, Syncs: run.Syncs}); err != nil {
			return err
		}
	}

	if trainFlags.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(trainFlags.metricsAddr, mux); err != nil {
				log.Error("metrics listener failed", "error", err)
			}
		}()
		log.Info("serving metrics", "addr", trainFlags.metricsAddr)
	}

	produce, workers, err := samplerPool(def)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	var loss float64
	for i := 0; i < steps; i++ {
		batch, err := sample.Collect(ctx, workers, produce)
		if err != nil {
			return fmt.Errorf("collect step %d: %w", i+1, err)
		}
		if err := a.Insert(batch); err != nil {
			return fmt.Errorf("insert step %d: %w", i+1, err)
		}
		if loss, err = a.Update(nil); err != nil {
			return fmt.Errorf("update step %d: %w", i+1, err)
		}
		snap := a.Snapshot()
		if st != nil {
			if err := st.AppendLoss(run.ID, snap.Steps, loss); err != nil {
				return err
			}
		}
		if (i+1)%10 == 0 || i+1 == steps {
			log.Info("progress", "step", snap.Steps, "loss", loss, "syncs", snap.Syncs, "memory", a.MemoryLen())
		}
	}

	snap := a.Snapshot()
	if st != nil {
		if err := st.SaveProgress(run.ID, snap.Steps, snap.Syncs); err != nil {
			return err
		}
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %q: %d update rounds (total %d), %d target syncs, final loss %g\n",
		def.Run, steps, snap.Steps, snap.Syncs, loss)
	if st != nil {
		fmt.Fprintf(out, "progress saved to %s\n", trainFlags.dbPath)
	}
	return nil
}

// samplerPool builds one seeded source per worker and returns the producer
// used by sample.Collect. Sources are per-worker: the synthetic generator's
// rng is not safe for concurrent draws.
func samplerPool(def *config.RunDef) (sample.Producer, int, error) {
	workers := def.Sampler.Workers
	if workers <= 0 {
		workers = 1
	}
	batch := def.Sampler.BatchSize
	if batch <= 0 {
		batch = def.Update.BatchSize
	}
	sp, err := def.Space.ActionSpace()
	if err != nil {
		return nil, 0, err
	}
	sources := make([]*sample.Source, workers)
	for i := range sources {
		var opts []sample.SourceOption
		if def.Sampler.PackedStates {
			opts = append(opts, sample.WithPackedStates())
		}
		src, err := sample.NewSource(def.Network.Inputs, sp.FlatDim(), def.Seed+100+int64(i), opts...)
		if err != nil {
			return nil, 0, err
		}
		sources[i] = src
	}
	produce := func(_ context.Context, worker int) (*sample.Batch, error) {
		return sources[worker].Batch(batch)
	}
	return produce, workers, nil
}
