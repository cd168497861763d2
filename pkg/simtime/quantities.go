package simtime

import "fmt"

// Frequency is a clock frequency in MHz.
type Frequency float64

// GHz returns the frequency expressed in GHz, the unit the cubic power
// polynomial in platform.ClockDomain is defined over.
func (f Frequency) GHz() float64 { return float64(f) / 1000.0 }

func (f Frequency) String() string { return fmt.Sprintf("%.3fMHz", float64(f)) }

// Power is in milliwatts.
type Power float64

func (p Power) String() string { return fmt.Sprintf("%.6fmW", float64(p)) }

// Energy is in millijoules.
type Energy float64

func (e Energy) String() string { return fmt.Sprintf("%.6fmJ", float64(e)) }

// Accumulate integrates power p over duration d (reference units: power is
// mW, d is ns) and adds the resulting energy (mJ) to e, returning the sum.
// mW * ns = 1e-3 W * 1e-9 s = 1e-12 J = 1e-9 mJ.
func (e Energy) Accumulate(p Power, d Duration) Energy {
	return e + Energy(float64(p)*float64(d)*1e-9)
}
