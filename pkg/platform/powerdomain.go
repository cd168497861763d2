package platform

import "github.com/fillien/schedsim/pkg/simtime"

// levelAt returns the CStateLevel descriptor for level, or the implicit
// active C0 level if level is 0 or not found.
func (pd *PowerDomain) levelAt(level int) CStateLevel {
	for _, cs := range pd.CStates {
		if cs.Level == level {
			return cs
		}
	}
	return CStateLevel{Level: 0}
}

// achievedLevel returns the C-state level actually in effect for p: its own
// requested level if the level's scope is PerProcessor, otherwise the
// minimum requested level across every processor in the domain (spec.md
// §3's PowerDomain invariant).
func (pd *PowerDomain) achievedLevel(p *Processor) int {
	if p.RequestedLevel == 0 {
		return 0
	}
	level := pd.levelAt(p.RequestedLevel)
	if level.Scope == PerProcessor {
		return p.RequestedLevel
	}
	min := p.RequestedLevel
	for _, pid := range pd.Processors {
		other := pd.platform.Processor(pid)
		if other.RequestedLevel < min {
			min = other.RequestedLevel
		}
	}
	return min
}

func (pd *PowerDomain) wakeLatency(level int) simtime.Duration {
	return pd.levelAt(level).WakeLatency
}

// PowerAt returns the power draw (mW) a processor would have at the given
// achieved C-state level, reading from the PowerDomain's level table.
func (pd *PowerDomain) PowerAt(level int) simtime.Power {
	return pd.levelAt(level).Power
}

// AchievedLevel exposes achievedLevel for the energy tracker and analyzer.
func (pd *PowerDomain) AchievedLevel(p *Processor) int { return pd.achievedLevel(p) }
