package cell

// burstOffset widens the burst draw so that a base barely over threshold can
// still release several motors at once.
const burstOffset = 10

// inject releases a Weibull-distributed burst of base motors into the
// filament when the base population exceeds the avalanche threshold. Motors
// are taken in creation order. It returns the number released.
func (c *Cell) inject() int {
	base := make([]*Motor, 0, len(c.motors))
	for _, m := range c.motors {
		if m.state == InBase {
			base = append(base, m)
		}
	}
	n := len(base)
	if n <= c.cfg.AvalancheThreshold {
		return 0
	}

	release := int(float64(n-c.cfg.AvalancheThreshold+burstOffset)*c.weibull.Rand() + 1)
	release = max(0, min(release, n))
	for _, m := range base[:release] {
		m.inject(c.cfg.LengthModulation)
	}
	return release
}
