package vm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sasha-s/go-deadlock"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/tiervm/ir"
)

// JITCompiler promotes hot units in the background. Tasks arrive from the
// controller through a bounded queue and are handled by a fixed pool of
// workers. Compilations are serialized by a runtime-wide lock; a failure
// in one task never escapes it.
type JITCompiler struct {
	rt    *Runtime
	log   commonlog.Logger
	lower LowerFunc

	queue chan Task

	// compileLock serializes compilations across workers.
	compileLock deadlock.Mutex

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group

	pendMu  sync.Mutex
	pendCv  *sync.Cond
	pending int

	statsMu sync.Mutex
	stats   JITStats
}

// TaskKind selects the promotion a task performs.
type TaskKind uint8

const (
	TaskFullBuild TaskKind = iota // optimize the IR, stay interpreted
	TaskNative                    // lower to a native program
)

func (k TaskKind) String() string {
	if k == TaskNative {
		return "native"
	}
	return "full-build"
}

// Task is one queued promotion. from is the state the unit left when it
// was queued; an abandoned task puts it back.
type Task struct {
	Unit *Unit
	Kind TaskKind
	from State
}

// JITStats holds background compiler statistics.
type JITStats struct {
	Successes  int
	Failures   int
	Abandons   int
	Excluded   int
	FullBuilds int
	StoreHits  int

	CodeSizeTotal   int
	CodeSizeLargest int
	IRSizeTotal     int
	IRSizeLargest   int

	CompileTimeTotal time.Duration
}

// CodeSizeAverage is the mean program size over successful compilations.
func (s JITStats) CodeSizeAverage() float64 {
	if s.Successes == 0 {
		return 0
	}
	return float64(s.CodeSizeTotal) / float64(s.Successes)
}

// IRSizeAverage is the mean IR size over successful compilations.
func (s JITStats) IRSizeAverage() float64 {
	if s.Successes == 0 {
		return 0
	}
	return float64(s.IRSizeTotal) / float64(s.Successes)
}

// CompileTimeAverage is the mean wall time of a successful compilation.
func (s JITStats) CompileTimeAverage() time.Duration {
	if s.Successes == 0 {
		return 0
	}
	return s.CompileTimeTotal / time.Duration(s.Successes)
}

// NewJITCompiler creates the background compiler for rt. It does not
// start workers.
func NewJITCompiler(rt *Runtime) *JITCompiler {
	size := rt.opts.QueueSize
	if size <= 0 {
		size = 1
	}
	lower := rt.opts.Lower
	if lower == nil {
		lower = Lower
	}
	j := &JITCompiler{
		rt:    rt,
		log:   commonlog.GetLogger("tiervm.jit"),
		lower: lower,
		queue: make(chan Task, size),
	}
	j.pendCv = sync.NewCond(&j.pendMu)
	return j
}

// Start launches the worker pool.
func (j *JITCompiler) Start() {
	j.runMu.Lock()
	defer j.runMu.Unlock()
	if j.running {
		return
	}
	workers := j.rt.opts.Workers
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			j.work(ctx)
			return nil
		})
	}
	j.cancel = cancel
	j.group = g
	j.running = true
	j.log.Debugf("started %d workers", workers)
}

// Stop shuts the workers down. Tasks still queued are abandoned. A
// compilation in progress runs to completion.
func (j *JITCompiler) Stop() {
	j.runMu.Lock()
	if !j.running {
		j.runMu.Unlock()
		return
	}
	j.running = false
	j.cancel()
	g := j.group
	j.runMu.Unlock()

	_ = g.Wait()
	for {
		select {
		case task := <-j.queue:
			j.abandon(task, "compiler stopped")
			j.addPending(-1)
		default:
			return
		}
	}
}

// Running reports whether workers are active.
func (j *JITCompiler) Running() bool {
	j.runMu.Lock()
	defer j.runMu.Unlock()
	return j.running
}

// Drain blocks until every submitted task has finished or ctx is done.
func (j *JITCompiler) Drain(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		j.pendMu.Lock()
		j.pendCv.Broadcast()
		j.pendMu.Unlock()
	})
	defer stop()

	j.pendMu.Lock()
	defer j.pendMu.Unlock()
	for j.pending > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		j.pendCv.Wait()
	}
	return nil
}

// Submit offers a task to the queue without blocking. Excluded units are
// rejected before any work, for full builds and native compiles alike, and
// are never counted again. A rejected task reverts the unit's state.
func (j *JITCompiler) Submit(task Task) error {
	u := task.Unit
	if pat := j.rt.opts.Exclusions.Match(u); pat != "" {
		j.revert(task)
		if u.exclude() {
			j.statsMu.Lock()
			j.stats.Excluded++
			j.statsMu.Unlock()
			j.log.Infof("%s excluded by %q", u.name, pat)
		}
		return fmt.Errorf("%s: %w", u.name, ErrExcluded)
	}
	if !j.Running() {
		j.revert(task)
		return ErrNotRunning
	}

	j.addPending(1)
	select {
	case j.queue <- task:
		return nil
	default:
		j.abandon(task, "queue full")
		j.addPending(-1)
		return ErrQueueFull
	}
}

func (j *JITCompiler) addPending(n int) {
	j.pendMu.Lock()
	j.pending += n
	if j.pending <= 0 {
		j.pending = 0
		j.pendCv.Broadcast()
	}
	j.pendMu.Unlock()
}

func (j *JITCompiler) revert(task Task) {
	queued := QueuedForFullBuild
	if task.Kind == TaskNative {
		queued = QueuedForJIT
	}
	task.Unit.casState(queued, task.from)
}

func (j *JITCompiler) abandon(task Task, why string) {
	j.revert(task)
	j.statsMu.Lock()
	j.stats.Abandons++
	j.statsMu.Unlock()
	j.log.Infof("abandoned %s compile of %s: %s", task.Kind, task.Unit.name, why)
}

func (j *JITCompiler) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-j.queue:
			j.run(task)
			j.addPending(-1)
		}
	}
}

// run handles one task. Panics in lowering are recovered here and treated
// as a compile failure.
func (j *JITCompiler) run(task Task) {
	j.compileLock.Lock()
	defer j.compileLock.Unlock()

	var key ir.Key
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("internal compiler error: %v", r)
			}
		}()
		if task.Kind == TaskFullBuild {
			return j.fullBuild(task.Unit)
		}
		return j.native(task.Unit, &key)
	}()
	if err != nil {
		j.fail(task, key, err)
	}
}

func (j *JITCompiler) fullBuild(u *Unit) error {
	s, err := u.IR()
	if err != nil {
		return err
	}
	ops := j.rt.fastOps()
	opt := ir.Optimize(s, func(op ir.Opcode) bool { return ops.intOps&opBit(op) != 0 })
	u.install(newCode(TierFullBuild, opt, u.sites))
	u.casState(QueuedForFullBuild, FullyBuilt)

	j.statsMu.Lock()
	j.stats.FullBuilds++
	j.statsMu.Unlock()
	j.log.Debugf("full build of %s: %d -> %d instructions", u.name, s.Size(), opt.Size())
	return nil
}

func (j *JITCompiler) native(u *Unit, key *ir.Key) error {
	start := time.Now()
	code, err := u.Code()
	if err != nil {
		return err
	}
	s := code.Scope
	k, err := ir.ContentKey(s)
	if err != nil {
		return err
	}
	failed, err := j.rt.ledger.Failed(k)
	if err != nil {
		j.log.Warningf("ledger: %s", err)
	}
	if failed {
		return fmt.Errorf("%s: %s: %w", u.name, k, ErrKnownFailure)
	}

	if err := ir.CheckLowerable(s, j.rt.opts.Limits); err != nil {
		return err
	}
	size := s.TotalSize()
	if limit := j.rt.opts.MaxIRSize; limit > 0 && size > limit {
		return fmt.Errorf("%s: %d instructions (max %d): %w", u.name, size, limit, ErrSizeLimit)
	}
	// Only failures past this point depend on the IR alone; the checks
	// above depend on configuration and are never recorded.
	*key = k

	prog := j.rt.store.Lookup(k)
	hit := prog != nil
	if !hit {
		prog, err = j.lower(s)
		if err != nil {
			return err
		}
		j.rt.store.Index(k, prog)
	}

	native, err := NewCodeLoader().Define(prog, s, u.sites)
	if err != nil {
		return err
	}
	u.install(native)
	u.casState(QueuedForJIT, NativeCompiled)

	elapsed := time.Since(start)
	j.statsMu.Lock()
	j.stats.Successes++
	if hit {
		j.stats.StoreHits++
	}
	j.stats.CodeSizeTotal += prog.Size()
	j.stats.CodeSizeLargest = max(j.stats.CodeSizeLargest, prog.Size())
	j.stats.IRSizeTotal += size
	j.stats.IRSizeLargest = max(j.stats.IRSizeLargest, size)
	j.stats.CompileTimeTotal += elapsed
	j.statsMu.Unlock()
	j.log.Debugf("compiled %s (%s): %d instructions, %d steps in %s", u.name, k, size, prog.Size(), elapsed)
	return nil
}

// fail leaves the unit's active body alone and stops it from being
// submitted again. Lowering and linking failures are recorded by content
// key; a zero key means the failure came from a configured limit.
func (j *JITCompiler) fail(task Task, key ir.Key, err error) {
	u := task.Unit
	u.setState(PermanentlyInterpreted)
	j.statsMu.Lock()
	j.stats.Failures++
	j.statsMu.Unlock()
	j.log.Warningf("%s compile of %s failed: %s", task.Kind, u.name, err)

	if task.Kind != TaskNative || key.IsZero() || errors.Is(err, ErrKnownFailure) {
		return
	}
	if lerr := j.rt.ledger.Record(key, u.name, err.Error()); lerr != nil {
		j.log.Warningf("ledger: %s", lerr)
	}
}

// Stats returns a snapshot of the compiler's counters.
func (j *JITCompiler) Stats() JITStats {
	j.statsMu.Lock()
	defer j.statsMu.Unlock()
	return j.stats
}

// QueueLen returns the number of tasks waiting in the queue.
func (j *JITCompiler) QueueLen() int { return len(j.queue) }
