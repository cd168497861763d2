package platform

import (
	"sort"

	"github.com/fillien/schedsim/internal/simerrors"
	"github.com/fillien/schedsim/pkg/engine"
	"github.com/fillien/schedsim/pkg/simtime"
)

// SetFrequency requests a new frequency for the domain. Rejects values
// outside [FreqMin, FreqMax] and requests while locked or already
// transitioning (spec.md §4.4). If TransitionDelay is zero the change
// applies immediately; otherwise every processor in the domain moves to
// Changing for the duration of the transition.
func (cd *ClockDomain) SetFrequency(now simtime.TimePoint, f simtime.Frequency) error {
	if f < cd.FreqMin || f > cd.FreqMax {
		return simerrors.OutOfRange("clock domain %d: frequency %v outside [%v, %v]", cd.ID, f, cd.FreqMin, cd.FreqMax)
	}
	if cd.Locked {
		return simerrors.InvalidState("clock domain %d: locked", cd.ID)
	}
	if cd.Transitioning {
		return simerrors.InvalidState("clock domain %d: already transitioning", cd.ID)
	}
	if cd.TransitionDelay == 0 {
		cd.applyFrequency(now, f)
		return nil
	}
	cd.Transitioning = true
	cd.PendingFreq = f
	for _, pid := range cd.Processors {
		cd.procOf(pid).beginDVFS(now)
	}
	timer, err := cd.eng.AddTimer(now.Add(cd.TransitionDelay), engine.PriorityTimerDefault, func(fireTime simtime.TimePoint) {
		cd.completeTransition(fireTime)
	})
	if err != nil {
		cd.Transitioning = false
		return err
	}
	cd.transitionTimer = timer
	return nil
}

func (cd *ClockDomain) procOf(id simtime.ProcessorID) *Processor {
	return cd.platform.Processor(id)
}

func (cd *ClockDomain) applyFrequency(now simtime.TimePoint, f simtime.Frequency) {
	old := cd.CurrentFreq
	if cd.platform.energy != nil {
		for _, pid := range cd.Processors {
			p := cd.procOf(pid)
			cd.platform.energy.OnFrequencyChange(now, p, old, f)
		}
	}
	for _, pid := range cd.Processors {
		cd.procOf(pid).updateConsumedWork(now)
	}
	cd.CurrentFreq = f
	cd.eng.Trace("frequency_change", func(r engine.Record) {
		r.Field("clock_domain_id", uint64(cd.ID)).Field("old_freq_mhz", float64(old)).Field("new_freq_mhz", float64(f))
	})
	for _, pid := range cd.Processors {
		p := cd.procOf(pid)
		if p.State == Running {
			_ = p.RescheduleCompletion(now)
		}
	}
}

func (cd *ClockDomain) completeTransition(now simtime.TimePoint) {
	old := cd.CurrentFreq
	newFreq := cd.PendingFreq
	if cd.platform.energy != nil {
		for _, pid := range cd.Processors {
			p := cd.procOf(pid)
			cd.platform.energy.OnFrequencyChange(now, p, old, newFreq)
		}
	}
	cd.CurrentFreq = newFreq
	cd.Transitioning = false
	cd.eng.Trace("frequency_change", func(r engine.Record) {
		r.Field("clock_domain_id", uint64(cd.ID)).Field("old_freq_mhz", float64(old)).Field("new_freq_mhz", float64(cd.CurrentFreq))
	})
	for _, pid := range cd.Processors {
		cd.procOf(pid).endDVFS(now)
	}
}

// CeilToMode returns the smallest OPP >= f, clamped to the highest OPP if f
// exceeds it. With no discrete OPPs configured ("free scaling"), it clamps
// f to [FreqMin, FreqMax] instead (spec.md §9's free-scaling resolution).
func (cd *ClockDomain) CeilToMode(f simtime.Frequency) simtime.Frequency {
	if cached, ok := cd.oppCache.get(f); ok {
		return cached
	}
	var result simtime.Frequency
	if len(cd.OPPs) == 0 {
		switch {
		case f < cd.FreqMin:
			result = cd.FreqMin
		case f > cd.FreqMax:
			result = cd.FreqMax
		default:
			result = f
		}
	} else {
		idx := sort.Search(len(cd.OPPs), func(i int) bool { return cd.OPPs[i] >= f })
		if idx == len(cd.OPPs) {
			result = cd.OPPs[len(cd.OPPs)-1]
		} else {
			result = cd.OPPs[idx]
		}
	}
	cd.oppCache.put(f, result)
	return result
}
