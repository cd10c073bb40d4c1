package testing

import "sync/atomic"

// StaticProbe is a memory-pressure probe with a settable answer.
type StaticProbe struct {
	pressure atomic.Bool
	calls    atomic.Int64
}

// NewStaticProbe creates a probe reporting pressure.
func NewStaticProbe(pressure bool) *StaticProbe {
	p := &StaticProbe{}
	p.pressure.Store(pressure)
	return p
}

// Set changes the reported pressure.
func (p *StaticProbe) Set(pressure bool) {
	p.pressure.Store(pressure)
}

// UnderPressure reports the configured pressure and counts the call.
func (p *StaticProbe) UnderPressure() bool {
	p.calls.Add(1)
	return p.pressure.Load()
}

// Calls returns how many times the probe was consulted.
func (p *StaticProbe) Calls() int64 {
	return p.calls.Load()
}
