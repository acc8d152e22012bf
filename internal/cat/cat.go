// Package cat wraps the external Cache Allocation Technology tool (pqos or
// rdtset) that actually programs cache-way masks. Its internals are out of
// scope for this agent, which only needs to invoke it with the right
// command-line arguments.
package cat

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// Controller invokes an external CAT tool to assign PIDs to a
// class-of-service and bound that class-of-service's cache ways.
type Controller struct {
	// Binary is the CAT tool executable name or path (default "pqos").
	Binary string
	Log    *slog.Logger
}

// NewController creates a Controller invoking the default pqos binary.
func NewController(log *slog.Logger) *Controller {
	return &Controller{Binary: "pqos", Log: log}
}

func (c *Controller) binary() string {
	if c.Binary != "" {
		return c.Binary
	}
	return "pqos"
}

// AssignPIDs binds pids to clos using `pqos -I -a 'pid:<clos>=<pids>'`.
func (c *Controller) AssignPIDs(clos int, pids []int) error {
	if len(pids) == 0 {
		return nil
	}
	strs := make([]string, len(pids))
	for i, p := range pids {
		strs[i] = strconv.Itoa(p)
	}
	arg := fmt.Sprintf("pid:%d=%s", clos, strings.Join(strs, ","))
	return c.run("-I", "-a", arg)
}

// SetMask sets clos's LLC cache-way mask using `pqos -e 'llc:<clos>=<mask>'`.
func (c *Controller) SetMask(clos int, mask string) error {
	arg := fmt.Sprintf("llc:%d=%s", clos, mask)
	return c.run("-e", arg)
}

func (c *Controller) run(args ...string) error {
	cmd := exec.CommandContext(context.Background(), c.binary(), args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		c.Log.Warn("cat tool invocation failed", "binary", c.binary(), "args", args, "output", string(out), "error", err)
		return fmt.Errorf("%s %v: %w", c.binary(), args, err)
	}
	return nil
}
