// Package controller implements the quiet-cycle state machine that walks a
// throttled resource through its graduated budget levels based on whether
// contention was detected this cycle.
package controller

import (
	"github.com/ja7ad/nodeguard/pkg/container"
	"github.com/ja7ad/nodeguard/pkg/resource"
)

// NaiveController relaxes a resource's budget one level every cycThresh
// quiet cycles, and snaps it straight back to the minimum the instant
// contention is detected.
type NaiveController struct {
	res       resource.Resource
	cycThresh int
	cycCount  int
}

// New creates a controller over res, relaxing its budget after cycThresh
// consecutive contention-free cycles (defaults to 7 for CPU quota and 6 for
// LLC).
func New(res resource.Resource, cycThresh int) *NaiveController {
	return &NaiveController{res: res, cycThresh: cycThresh}
}

// Update applies one cycle's contention verdict to the controller.
//
//   - detected: contention was observed against an LC workload this cycle.
//     The resource is immediately reset to its minimum budget level (unless
//     already there) and re-budgeted across beContainers.
//   - hold: the resource is close enough to its margin that it should not
//     be relaxed further even though no contention was detected this cycle.
//
// A resource already at its unrestricted (full) level is never touched by
// the quiet-cycle counter; it only leaves full level via a detected event.
func (c *NaiveController) Update(beContainers []*container.Record, detected, hold bool) error {
	if detected {
		c.cycCount = 0
		if c.res.IsMinLevel() {
			return nil
		}
		c.res.SetLevel(resource.LevelMin)
		return c.res.Budgeting(beContainers)
	}

	if hold || c.res.IsFullLevel() {
		return nil
	}

	c.cycCount++
	if c.cycCount < c.cycThresh {
		return nil
	}
	c.cycCount = 0
	c.res.IncreaseLevel()
	return c.res.Budgeting(beContainers)
}
