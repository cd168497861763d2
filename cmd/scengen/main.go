// Command scengen synthesizes scenario JSON files via UUniFast-Discard
// utilization splitting and Weibull-sampled job durations (spec.md §6's
// scenario generator CLI).
package main

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	log "github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/fillien/schedsim/pkg/generator"
	"github.com/fillien/schedsim/pkg/scenario"
)

type opts struct {
	tasks       int
	utilization float64
	periodMinMs float64
	periodMaxMs float64
	logUniform  bool
	uniform     bool
	duration    float64
	execRatio   float64
	output      string
	seed        int64
	batch       int
	dir         string
}

func main() {
	var o opts

	root := &cobra.Command{
		Use:   "scengen",
		Short: "Synthetic task-set generator for schedsim scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(o)
		},
		SilenceUsage: true,
	}

	f := root.Flags()
	f.IntVar(&o.tasks, "tasks", 4, "number of tasks to generate")
	f.Float64Var(&o.utilization, "utilization", 1.0, "target total utilization, in (0, tasks]")
	f.Float64Var(&o.periodMinMs, "period-min", 10, "minimum task period, in ms")
	f.Float64Var(&o.periodMaxMs, "period-max", 1000, "maximum task period, in ms")
	f.BoolVar(&o.logUniform, "log-uniform", false, "sample periods log-uniformly instead of uniformly")
	f.BoolVar(&o.uniform, "uniform", true, "sample periods uniformly; the default, --log-uniform overrides it")
	f.Float64Var(&o.duration, "duration", 100, "seconds of jobs to pre-script per task")
	f.Float64Var(&o.execRatio, "exec-ratio", 0.8, "largest job duration as a fraction of wcet, in (0, 1]; durations are Weibull-sampled below it")
	f.StringVar(&o.output, "output", "-", "scenario output file (- for stdout); ignored when --batch > 1")
	f.Int64Var(&o.seed, "seed", 1, "base RNG seed; batch member i uses seed+i")
	f.IntVar(&o.batch, "batch", 1, "number of scenarios to generate")
	f.StringVar(&o.dir, "dir", ".", "output directory when --batch > 1")

	if err := root.Execute(); err != nil {
		log.Errorf("scengen: %v", err)
		os.Exit(1)
	}
}

func run(o opts) error {
	genOpts := generator.Options{
		Tasks:        o.tasks,
		Utilization:  o.utilization,
		UMax:         1.0,
		PeriodMinMs:  o.periodMinMs,
		PeriodMaxMs:  o.periodMaxMs,
		Duration:     o.duration,
		ExecRatio:    o.execRatio,
		Distribution: generator.Uniform,
	}
	if o.logUniform {
		genOpts.Distribution = generator.LogUniform
	}

	if o.batch <= 1 {
		rng := rand.New(rand.NewSource(o.seed))
		sc, err := generator.Generate(rng, genOpts)
		if err != nil {
			return err
		}
		return writeScenario(o.output, sc)
	}

	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return err
	}
	for i := 0; i < o.batch; i++ {
		rng := rand.New(rand.NewSource(o.seed + int64(i)))
		sc, err := generator.Generate(rng, genOpts)
		if err != nil {
			return err
		}
		path := filepath.Join(o.dir, fmt.Sprintf("scenario-%04d.json", i))
		if err := writeScenario(path, sc); err != nil {
			return err
		}
	}
	return nil
}

func writeScenario(path string, sc *scenario.Scenario) error {
	if path == "-" {
		return scenario.Write(os.Stdout, sc)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return scenario.Write(f, sc)
}
