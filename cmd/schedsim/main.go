// Command schedsim runs one simulation from a scenario/platform JSON pair
// and streams the canonical trace record stream (spec.md §6) to stdout or a
// file.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	log "github.com/golang/glog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"

	"github.com/fillien/schedsim/internal/simerrors"
	"github.com/fillien/schedsim/pkg/engine"
	"github.com/fillien/schedsim/pkg/platform"
	"github.com/fillien/schedsim/pkg/scenario"
	"github.com/fillien/schedsim/pkg/sched"
	"github.com/fillien/schedsim/pkg/simtime"
	"github.com/fillien/schedsim/pkg/simulation"
	"github.com/fillien/schedsim/pkg/trace"
)

// exit codes, spec.md §6.
const (
	exitRuntime  = 1
	exitAdmit    = 2
	exitBadUsage = 64
)

// usageError marks a bad-arguments failure (exit code 64), distinct from
// the runtime simerrors kinds a run can fail with.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...interface{}) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

type opts struct {
	input          string
	platform       string
	scheduler      string
	reclaim        string
	dvfs           string
	dvfsCooldownMs float64
	dpm            string
	dpmCState      int
	durationSec    float64
	energy         bool
	contextSwitch  bool
	output         string
	format         string
	metrics        bool
	verbose        bool
}

func main() {
	var o opts

	root := &cobra.Command{
		Use:   "schedsim",
		Short: "Deterministic discrete-event simulator for hard real-time multi-core scheduling",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(o)
		},
		SilenceUsage: true,
	}

	f := root.Flags()
	f.StringVar(&o.input, "input", "", "scenario JSON file (required)")
	f.StringVar(&o.platform, "platform", "", "platform JSON file (required)")
	f.StringVar(&o.scheduler, "scheduler", "edf", "scheduling policy: edf")
	f.StringVar(&o.reclaim, "reclaim", "none", "bandwidth reclamation policy: none|grub|cash")
	f.StringVar(&o.dvfs, "dvfs", "none", "DVFS policy: none|power-aware")
	f.Float64Var(&o.dvfsCooldownMs, "dvfs-cooldown", 0, "minimum time between DVFS frequency changes, in ms")
	f.StringVar(&o.dpm, "dpm", "none", "dynamic power management: none|basic")
	f.IntVar(&o.dpmCState, "dpm-cstate", 1, "C-state level installed on every power domain when --dpm=basic; the none and power-aware DVFS policies never request it for idle cores")
	f.Float64Var(&o.durationSec, "duration", 0, "run horizon in seconds (0 = run until the event queue is empty)")
	f.BoolVar(&o.energy, "energy", false, "enable the energy tracker and emit final energy records")
	f.BoolVar(&o.contextSwitch, "context-switch", false, "charge a non-zero context-switch delay on processor reassignment")
	f.StringVar(&o.output, "output", "-", "trace output: - for stdout, or a file path")
	f.StringVar(&o.format, "format", "json", "trace output format: json|null")
	f.BoolVar(&o.metrics, "metrics", false, "print a one-line deadline-miss/preemption summary to stderr after the run")
	f.BoolVar(&o.verbose, "verbose", false, "enable glog -v=2 component tracing")

	if err := root.Execute(); err != nil {
		log.Errorf("schedsim: %v", err)
		os.Exit(codeFor(err))
	}
}

func codeFor(err error) int {
	var u *usageError
	switch {
	case errors.As(err, &u):
		return exitBadUsage
	case simerrors.Is(err, codes.ResourceExhausted):
		return exitAdmit
	default:
		return exitRuntime
	}
}

func run(o opts) error {
	if o.input == "" || o.platform == "" {
		return usageErrorf("--input and --platform are required")
	}
	if o.scheduler != "edf" {
		return usageErrorf("unknown --scheduler %q: only edf is implemented", o.scheduler)
	}
	switch simulation.ReclaimKind(o.reclaim) {
	case simulation.ReclaimNone, simulation.ReclaimGrub, simulation.ReclaimCash:
	default:
		return usageErrorf("unknown --reclaim %q: want none|grub|cash", o.reclaim)
	}
	switch simulation.DVFSKind(o.dvfs) {
	case simulation.DVFSNone, simulation.DVFSPowerAware:
	default:
		return usageErrorf("unknown --dvfs %q: want none|power-aware", o.dvfs)
	}
	switch o.dpm {
	case "none", "basic":
	default:
		return usageErrorf("unknown --dpm %q: want none|basic", o.dpm)
	}
	switch o.format {
	case "json", "null":
	default:
		return usageErrorf("unknown --format %q: want json|null", o.format)
	}
	if o.verbose {
		_ = flag.Set("v", "2")
	}

	scFile, err := os.Open(o.input)
	if err != nil {
		return err
	}
	defer scFile.Close()
	sc, err := scenario.Load(scFile)
	if err != nil {
		return err
	}

	platFile, err := os.Open(o.platform)
	if err != nil {
		return err
	}
	defer platFile.Close()
	platSpec, err := scenario.LoadPlatform(platFile)
	if err != nil {
		return err
	}

	var cstates []platform.CStateLevel
	dpmCState := 0
	if o.dpm == "basic" {
		dpmCState = o.dpmCState
		cstates = []platform.CStateLevel{
			{Level: o.dpmCState, Scope: platform.PerProcessor, WakeLatency: simtime.Zero, Power: 0},
		}
	}

	var contextSwitchDelay simtime.Duration
	if o.contextSwitch {
		contextSwitchDelay = simtime.FromSeconds(1e-4)
	}

	cfg := simulation.Config{
		Reclaim:            simulation.ReclaimKind(o.reclaim),
		DVFS:               simulation.DVFSKind(o.dvfs),
		DVFSCooldown:       simtime.FromSeconds(o.dvfsCooldownMs / 1000),
		DPMCState:          dpmCState,
		ContextSwitchDelay: contextSwitchDelay,
		CStates:            cstates,
		Duration:           simtime.FromSeconds(o.durationSec),
		EnergyEnabled:      o.energy,
		Selector:           sched.FirstFit,
	}

	eng := engine.New()

	var sink *trace.Sink
	var outFile *os.File
	if o.format == "json" {
		if o.output == "-" {
			sink = trace.NewSink(os.Stdout)
		} else {
			outFile, err = os.Create(o.output)
			if err != nil {
				return err
			}
			defer outFile.Close()
			sink = trace.NewSink(outFile)
		}
		eng.SetTraceWriter(sink)
	}

	result, err := simulation.Run(eng, platSpec, sc, cfg)
	if sink != nil {
		if closeErr := sink.Close(); err == nil {
			err = closeErr
		}
	}
	if err != nil {
		return err
	}

	if o.verbose {
		log.V(2).Infof("schedsim: run %s complete, %d deadline misses, %d preemptions", result.RunID, result.DeadlineMisses, result.Preemptions)
	}
	if o.metrics {
		fmt.Fprintf(os.Stderr, "run=%s deadline_misses=%d preemptions=%d\n", result.RunID, result.DeadlineMisses, result.Preemptions)
	}
	return nil
}
