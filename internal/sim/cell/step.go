package cell

// Simulate runs n steps after the last completed one.
func (c *Cell) Simulate(n int) {
	for i := 0; i < n; i++ {
		c.step()
	}
}

// Extend grows every buffer by n-1 slots and simulates into them. History
// up to the current step is never recomputed.
func (c *Cell) Extend(n int) {
	if n < 2 {
		return
	}
	grow := n - 1
	c.lengthTrace.Extend(grow)
	c.flux.Extend(grow)
	c.base.Extend(grow)
	c.diffusing.Extend(grow)
	c.active.Extend(grow)
	c.avalanche.Extend(grow)
	for _, m := range c.motors {
		m.extendTraces(grow)
	}
	c.extensions++
	// Buffers were pre-sized to TotalSteps; simulate up to their end.
	c.Simulate(c.lengthTrace.Len() - 1 - c.current)
}

func (c *Cell) step() {
	step := c.current + 1

	if c.cfg.ManualLengthMultiplier > 0 && !c.hogDone && step == c.hogStep {
		c.length *= c.cfg.ManualLengthMultiplier
		c.hogDone = true
	}

	released := 0
	if c.cfg.AvalancheEnabled {
		released = c.inject()
	}
	c.avalanche.Set(step, released)

	if c.cfg.LengthModulation {
		if c.length >= c.cfg.DecayStep {
			c.length -= c.cfg.DecayStep
		} else {
			c.length = 0
		}
	}
	c.lengthTrace.Set(step, c.length)

	for _, m := range c.motors {
		m.update()
		m.record(step)
	}

	rec := c.aggregate(step)
	rec.Avalanche = released
	c.flux.Set(step, rec.Flux)
	c.base.Set(step, rec.Base)
	c.diffusing.Set(step, rec.Diffusing)
	c.active.Set(step, rec.Active)

	c.current = step
	for _, s := range c.sinks {
		if err := s.WriteStep(rec); err != nil && c.sinkErr == nil {
			c.sinkErr = err
		}
	}
}

func (c *Cell) aggregate(step int) StepRecord {
	rec := StepRecord{Step: step, Length: c.lengthTrace.At(step)}
	for _, m := range c.motors {
		switch m.state {
		case InBase:
			rec.Base++
		case Diffusing:
			rec.Diffusing++
		case ActiveTransport:
			rec.Active++
			if m.pos < c.cfg.FluxBoundary {
				rec.Flux++
			}
		}
	}
	return rec
}
