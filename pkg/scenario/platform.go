package scenario

import (
	"io"
	"sort"
	"strconv"

	"github.com/fillien/schedsim/internal/simerrors"
	"github.com/fillien/schedsim/pkg/engine"
	"github.com/fillien/schedsim/pkg/platform"
	"github.com/fillien/schedsim/pkg/simtime"
)

// ClusterSpec describes one homogeneous cluster of a Platform JSON document
// (spec.md §6): a processor count, its sorted-descending discrete
// frequency ladder, a DPM efficient-frequency threshold, a cubic power
// polynomial, and a performance score relative to other clusters.
type ClusterSpec struct {
	NbProcs       int
	Frequencies   []float64 // MHz, descending
	EffectiveFreq float64   // MHz
	PowerModel    [4]float64
	PerfScore     float64
}

// PlatformSpec is a fully validated list of clusters.
type PlatformSpec struct {
	Clusters []ClusterSpec
}

type rawCluster struct {
	NbProcs       int        `json:"nb_procs"`
	Frequencies   []float64  `json:"frequencies"`
	EffectiveFreq float64    `json:"effective_freq"`
	PowerModel    [4]float64 `json:"power_model"`
	PerfScore     float64    `json:"perf_score"`
}

// LoadPlatform decodes and validates a platform JSON document from r.
func LoadPlatform(r io.Reader) (*PlatformSpec, error) {
	var raw []rawCluster
	if err := api.NewDecoder(r).Decode(&raw); err != nil {
		return nil, simerrors.LoaderError("platform: %v", err)
	}
	spec := &PlatformSpec{Clusters: make([]ClusterSpec, 0, len(raw))}
	for i, c := range raw {
		if c.NbProcs <= 0 {
			return nil, simerrors.LoaderError("platform: cluster %d: nb_procs must be > 0", i)
		}
		if len(c.Frequencies) == 0 {
			return nil, simerrors.LoaderError("platform: cluster %d: frequencies must be non-empty", i)
		}
		for j := 1; j < len(c.Frequencies); j++ {
			if c.Frequencies[j] >= c.Frequencies[j-1] {
				return nil, simerrors.LoaderError("platform: cluster %d: frequencies must be strictly descending", i)
			}
		}
		if !containsFreq(c.Frequencies, c.EffectiveFreq) {
			return nil, simerrors.LoaderError("platform: cluster %d: effective_freq %v must be one of frequencies", i, c.EffectiveFreq)
		}
		if c.PerfScore <= 0 {
			return nil, simerrors.LoaderError("platform: cluster %d: perf_score must be > 0", i)
		}
		spec.Clusters = append(spec.Clusters, ClusterSpec{
			NbProcs:       c.NbProcs,
			Frequencies:   append([]float64(nil), c.Frequencies...),
			EffectiveFreq: c.EffectiveFreq,
			PowerModel:    c.PowerModel,
			PerfScore:     c.PerfScore,
		})
	}
	return spec, nil
}

func containsFreq(freqs []float64, f float64) bool {
	for _, x := range freqs {
		if x == f {
			return true
		}
	}
	return false
}

// WritePlatform serializes spec in the canonical cluster-list form.
func WritePlatform(w io.Writer, spec *PlatformSpec) error {
	stream := api.BorrowStream(w)
	defer api.ReturnStream(stream)
	stream.WriteArrayStart()
	for i, c := range spec.Clusters {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectStart()
		stream.WriteObjectField("nb_procs")
		stream.WriteInt(c.NbProcs)
		stream.WriteMore()
		stream.WriteObjectField("frequencies")
		stream.WriteArrayStart()
		for j, f := range c.Frequencies {
			if j > 0 {
				stream.WriteMore()
			}
			stream.WriteFloat64(f)
		}
		stream.WriteArrayEnd()
		stream.WriteMore()
		stream.WriteObjectField("effective_freq")
		stream.WriteFloat64(c.EffectiveFreq)
		stream.WriteMore()
		stream.WriteObjectField("power_model")
		stream.WriteArrayStart()
		for j, a := range c.PowerModel {
			if j > 0 {
				stream.WriteMore()
			}
			stream.WriteFloat64(a)
		}
		stream.WriteArrayEnd()
		stream.WriteMore()
		stream.WriteObjectField("perf_score")
		stream.WriteFloat64(c.PerfScore)
		stream.WriteObjectEnd()
	}
	stream.WriteArrayEnd()
	return stream.Flush()
}

// ClusterHandle is the set of platform IDs BuildPlatform allocated for one
// cluster, handed back so the caller (pkg/simulation.Run) can build an
// sched.EdfScheduler and sched.Cluster over them.
type ClusterHandle struct {
	Domain     simtime.ClockDomainID
	Power      simtime.PowerDomainID
	Processors []simtime.ProcessorID
	PerfScore  float64
	FreqMax    simtime.Frequency
}

// BuildPlatform constructs (but does not finalize) a platform.Platform from
// spec, creating one ProcessorType/ClockDomain/PowerDomain per cluster.
// transitionDelay and contextSwitchDelay apply uniformly to every cluster;
// cstates is installed on every cluster's power domain (nil means no
// discrete C-states beyond the implicit active C0). The caller must still
// register every scenario task with plat.AddTask before calling
// plat.Finalize (AddTask is rejected once finalized).
func BuildPlatform(spec *PlatformSpec, eng *engine.Engine, transitionDelay, contextSwitchDelay simtime.Duration, cstates []platform.CStateLevel) (*platform.Platform, []ClusterHandle, error) {
	plat := platform.New(eng, contextSwitchDelay > 0)
	handles := make([]ClusterHandle, 0, len(spec.Clusters))
	for i, c := range spec.Clusters {
		freqs := append([]float64(nil), c.Frequencies...)
		sort.Float64s(freqs)
		freqMin := simtime.Frequency(freqs[0])
		freqMax := simtime.Frequency(freqs[len(freqs)-1])

		typeID, err := plat.AddProcessorType(clusterName(i), c.PerfScore, contextSwitchDelay)
		if err != nil {
			return nil, nil, err
		}
		domainID, err := plat.AddClockDomain(freqMin, freqMax, transitionDelay)
		if err != nil {
			return nil, nil, err
		}
		opps := make([]simtime.Frequency, len(freqs))
		for j, f := range freqs {
			opps[j] = simtime.Frequency(f)
		}
		if err := plat.SetOPPs(domainID, opps); err != nil {
			return nil, nil, err
		}
		if err := plat.SetEfficientFrequency(domainID, simtime.Frequency(c.EffectiveFreq)); err != nil {
			return nil, nil, err
		}
		poly := platform.PowerPolynomial{A0: c.PowerModel[0], A1: c.PowerModel[1], A2: c.PowerModel[2], A3: c.PowerModel[3]}
		if err := plat.SetPowerPolynomial(domainID, poly); err != nil {
			return nil, nil, err
		}
		powerID, err := plat.AddPowerDomain(cstates)
		if err != nil {
			return nil, nil, err
		}
		procs := make([]simtime.ProcessorID, 0, c.NbProcs)
		for p := 0; p < c.NbProcs; p++ {
			pid, err := plat.AddProcessor(typeID, domainID, powerID)
			if err != nil {
				return nil, nil, err
			}
			procs = append(procs, pid)
		}
		handles = append(handles, ClusterHandle{
			Domain:     domainID,
			Power:      powerID,
			Processors: procs,
			PerfScore:  c.PerfScore,
			FreqMax:    freqMax,
		})
	}
	return plat, handles, nil
}

func clusterName(i int) string {
	return "cluster" + strconv.Itoa(i)
}
