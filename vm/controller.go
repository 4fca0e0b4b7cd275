package vm

import (
	"github.com/tliron/commonlog"
)

// Controller decides when a unit is promoted. It counts invocations and
// submits promotion tasks to the background compiler when a threshold is
// crossed. It never compiles on the calling goroutine.
type Controller struct {
	rt  *Runtime
	jit *JITCompiler
	log commonlog.Logger

	enabled  bool
	fullAt   int64
	nativeAt int64
}

// NewController creates the controller for rt.
func NewController(rt *Runtime, jit *JITCompiler) *Controller {
	return &Controller{
		rt:       rt,
		jit:      jit,
		log:      commonlog.GetLogger("tiervm.controller"),
		enabled:  rt.opts.JITEnabled,
		fullAt:   rt.opts.FullBuildThreshold,
		nativeAt: rt.opts.JITThreshold,
	}
}

// Invoked records one invocation of u and queues a promotion when a
// threshold is crossed. Excluded units are not counted.
func (c *Controller) Invoked(u *Unit) {
	n, ok := u.count()
	if !ok || !c.enabled {
		return
	}

	if c.nativeAt > 0 && n >= c.nativeAt {
		for _, from := range [...]State{Interpreted, FullyBuilt} {
			if u.casState(from, QueuedForJIT) {
				c.submit(Task{Unit: u, Kind: TaskNative, from: from})
				return
			}
		}
	}
	if c.fullAt > 0 && n >= c.fullAt && u.casState(Interpreted, QueuedForFullBuild) {
		c.submit(Task{Unit: u, Kind: TaskFullBuild, from: Interpreted})
	}
}

func (c *Controller) submit(task Task) {
	if err := c.jit.Submit(task); err != nil {
		c.log.Debugf("%s not queued: %s", task.Unit.name, err)
	}
}

// Promote queues u for native compilation regardless of its call count.
// It reports whether a task was queued.
func (c *Controller) Promote(u *Unit) bool {
	if u.calls.Load() < 0 {
		return false
	}
	for _, from := range [...]State{Interpreted, FullyBuilt} {
		if u.casState(from, QueuedForJIT) {
			return c.jit.Submit(Task{Unit: u, Kind: TaskNative, from: from}) == nil
		}
	}
	return false
}
