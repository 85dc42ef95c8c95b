package cell

// Metrics is a point-in-time view of the cell, used for progress reporting.
type Metrics struct {
	Step       int     `json:"step"`
	Length     float64 `json:"length"`
	Base       int     `json:"base"`
	Diffusing  int     `json:"diffusing"`
	Active     int     `json:"active"`
	Flux       int     `json:"flux"`
	Extensions int     `json:"extensions"`
	BufferLen  int     `json:"buffer_len"`
}

func (c *Cell) Metrics() Metrics {
	if c == nil {
		return Metrics{}
	}
	m := Metrics{
		Step:       c.current,
		Length:     c.length,
		Extensions: c.extensions,
		BufferLen:  c.lengthTrace.Len(),
	}
	if c.current >= 0 {
		rec := c.Record(c.current)
		m.Base, m.Diffusing, m.Active, m.Flux = rec.Base, rec.Diffusing, rec.Active, rec.Flux
	}
	return m
}
