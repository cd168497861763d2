// Package generator implements synthetic task-set generation: UUniFast-
// Discard utilization splitting and Weibull-sampled job durations, grounded
// on original_source/schedlib/include/generators/uunifast_discard_weibull.hpp
// (a feature spec.md names only as an out-of-core external collaborator;
// SPEC_FULL.md gives it a home here, driven by cmd/scengen).
//
// Per spec.md §9's design note ("RNGs are per-call arguments to generators,
// never module-level"), every function here takes an explicit *rand.Rand;
// there is no package-level source.
package generator

import (
	"math"
	"math/rand"
	"sort"

	"github.com/fillien/schedsim/internal/simerrors"
	"github.com/fillien/schedsim/pkg/scenario"
)

// PeriodDistribution selects how task periods are drawn from
// [PeriodMinMs, PeriodMaxMs].
type PeriodDistribution int

// Period distributions.
const (
	Uniform PeriodDistribution = iota
	LogUniform
)

// weibullShape is the fixed Weibull shape parameter used for job-duration
// sampling (k=2 gives a Rayleigh-like spread around the mean, concentrating
// samples below the median -- convenient for modelling jobs that usually
// undershoot their WCET, the GRUB/CASH early-completion case).
const weibullShape = 2.0

// Options parameterizes one task-set generation run (spec.md §6's scenario
// generator CLI).
type Options struct {
	Tasks        int
	Utilization  float64 // target sum of per-task utilizations, in (0, nb_tasks]
	UMax         float64 // per-task utilization cap, in (0, 1]
	PeriodMinMs  float64
	PeriodMaxMs  float64
	Distribution PeriodDistribution
	Duration     float64 // seconds of jobs to pre-script per task
	ExecRatio    float64 // in (0, 1]: largest job duration as a fraction of wcet
}

func (o Options) validate() error {
	switch {
	case o.Tasks < 1:
		return simerrors.LoaderError("generator: tasks must be >= 1")
	case o.Utilization <= 0:
		return simerrors.LoaderError("generator: utilization must be > 0")
	case o.UMax <= 0 || o.UMax > 1:
		return simerrors.LoaderError("generator: umax must be in (0, 1]")
	case o.Utilization > float64(o.Tasks)*o.UMax:
		return simerrors.LoaderError("generator: utilization %v unreachable with %d tasks capped at umax=%v", o.Utilization, o.Tasks, o.UMax)
	case o.PeriodMinMs <= 0 || o.PeriodMaxMs < o.PeriodMinMs:
		return simerrors.LoaderError("generator: period-min/period-max out of order")
	case o.ExecRatio <= 0 || o.ExecRatio > 1:
		return simerrors.LoaderError("generator: exec-ratio must be in (0, 1]")
	}
	return nil
}

// UUniFastDiscard splits totalUtil across n tasks (classic UUniFast,
// discarding and retrying any split with a per-task utilization above
// uMax) and returns the n utilizations in generation order.
func UUniFastDiscard(rng *rand.Rand, n int, totalUtil, uMax float64) []float64 {
	utils := make([]float64, n)
	for {
		sumUtil := totalUtil
		ok := true
		for i := 0; i < n-1; i++ {
			next := sumUtil * math.Pow(rng.Float64(), 1.0/float64(n-i))
			utils[i] = sumUtil - next
			if utils[i] > uMax {
				ok = false
				break
			}
			sumUtil = next
		}
		if !ok {
			continue
		}
		utils[n-1] = sumUtil
		if utils[n-1] <= uMax {
			return utils
		}
	}
}

func samplePeriodSeconds(rng *rand.Rand, o Options) float64 {
	var ms float64
	switch o.Distribution {
	case LogUniform:
		lo, hi := math.Log(o.PeriodMinMs), math.Log(o.PeriodMaxMs)
		ms = math.Exp(lo + rng.Float64()*(hi-lo))
	default:
		ms = o.PeriodMinMs + rng.Float64()*(o.PeriodMaxMs-o.PeriodMinMs)
	}
	return ms / 1000.0
}

// weibullSample draws a Weibull(shape, scale=1) sample via inverse-CDF.
func weibullSample(rng *rand.Rand, shape float64) float64 {
	u := rng.Float64()
	return math.Pow(-math.Log(1-u), 1/shape)
}

func clip01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// Generate returns a Scenario with opts.Tasks periodic tasks whose
// utilizations sum to opts.Utilization (UUniFast-Discard, capped at
// opts.UMax), with pre-scripted jobs released every period out to
// opts.Duration. Each job's duration is opts.ExecRatio*wcet times a
// Weibull(shape 2, scale 1) sample clipped to [0, 1], so durations never
// exceed opts.ExecRatio*wcet and average about 0.75*opts.ExecRatio*wcet.
func Generate(rng *rand.Rand, opts Options) (*scenario.Scenario, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	utils := UUniFastDiscard(rng, opts.Tasks, opts.Utilization, opts.UMax)

	sc := &scenario.Scenario{Tasks: make([]scenario.TaskSpec, 0, opts.Tasks)}
	for i, u := range utils {
		period := samplePeriodSeconds(rng, opts)
		wcet := u * period

		var jobs []scenario.JobSpec
		for arrival := 0.0; arrival < opts.Duration; arrival += period {
			frac := clip01(weibullSample(rng, weibullShape))
			duration := opts.ExecRatio * wcet * frac
			if duration <= 0 {
				duration = wcet * 1e-6
			}
			if duration > wcet {
				duration = wcet
			}
			jobs = append(jobs, scenario.JobSpec{Arrival: arrival, Duration: duration})
		}
		sort.Slice(jobs, func(a, b int) bool { return jobs[a].Arrival < jobs[b].Arrival })

		sc.Tasks = append(sc.Tasks, scenario.TaskSpec{
			ID:               uint64(i + 1),
			Period:           period,
			RelativeDeadline: period,
			WCET:             wcet,
			Jobs:             jobs,
		})
	}
	return sc, nil
}
