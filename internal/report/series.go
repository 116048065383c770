// Package report draws the PSNR history of a calibration run, as a PNG for
// quick inspection and as an interactive HTML page.
package report

import (
	"strconv"
	"sync"

	"github.com/banshee-data/selfcal/internal/selfcal"
)

// Point is one imaged state.
type Point struct {
	Iteration int
	Solint    string
	PSNR      float64
	Peak      float64
	Stdv      float64
	Outcome   selfcal.Outcome
}

// Label names the point on a category axis.
func (p Point) Label() string {
	if p.Iteration < 0 {
		return "base"
	}
	if p.Solint != "" {
		return strconv.Itoa(p.Iteration) + " (" + p.Solint + ")"
	}
	return strconv.Itoa(p.Iteration)
}

// Series is the sequence of images of one stage.
type Series struct {
	Stage   string
	CalMode string
	Points  []Point
}

// Collector gathers Series from stage observers.
type Collector struct {
	mu     sync.Mutex
	series []*Series
}

// Stage starts a new series and returns the observer that fills it.
func (c *Collector) Stage(name, calmode string) selfcal.Observer {
	s := &Series{Stage: name, CalMode: calmode}
	c.mu.Lock()
	c.series = append(c.series, s)
	c.mu.Unlock()
	return selfcal.ObserverFunc(func(r selfcal.IterationResult) {
		c.mu.Lock()
		defer c.mu.Unlock()
		s.Points = append(s.Points, Point{
			Iteration: r.Index,
			Solint:    r.Solint,
			PSNR:      r.Stats.PSNR,
			Peak:      r.Stats.Peak,
			Stdv:      r.Stats.Stdv,
			Outcome:   r.Outcome,
		})
	})
}

// Series returns a copy of everything collected so far.
func (c *Collector) Series() []Series {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Series, len(c.series))
	for i, s := range c.series {
		out[i] = Series{Stage: s.Stage, CalMode: s.CalMode, Points: append([]Point(nil), s.Points...)}
	}
	return out
}
