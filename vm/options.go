package vm

import (
	"io"
	"os"

	"github.com/chazu/tiervm/compiler"
	"github.com/chazu/tiervm/ir"
)

// Options is the read-only configuration of a runtime.
type Options struct {
	// JITEnabled starts the background compiler. With it off, units stay
	// interpreted no matter how hot they get.
	JITEnabled bool

	// FullBuildThreshold and JITThreshold are call counts. Zero disables
	// the corresponding promotion; one promotes on the first call.
	FullBuildThreshold int64
	JITThreshold       int64

	// MaxIRSize is the instruction count above which a unit is refused by
	// the native backend. Zero means no ceiling.
	MaxIRSize int

	Workers   int
	QueueSize int

	// ChainLimit bounds the guarded bindings of a polymorphic call site.
	ChainLimit int
	// RebindOnMiss replaces a site's bindings on a miss instead of
	// extending the chain.
	RebindOnMiss bool

	// FullTrace forces the analyzer's disabled flag set on every unit.
	FullTrace bool

	Limits     ir.Limits
	Exclusions Exclusions

	// LedgerPath is the SQLite database recording failed compilations.
	// Empty disables the ledger.
	LedgerPath string

	// Out receives output of puts, print and p.
	Out io.Writer

	// Lower overrides the native lowering step.
	Lower LowerFunc

	// Parser, when set, lets eval compile source text.
	Parser func(src, file string) (*compiler.Root, error)
}

// DefaultOptions returns the standard configuration.
func DefaultOptions() Options {
	return Options{
		JITEnabled:         true,
		FullBuildThreshold: 20,
		JITThreshold:       50,
		MaxIRSize:          2000,
		Workers:            2,
		QueueSize:          64,
		ChainLimit:         4,
		Limits:             ir.DefaultLimits,
		Out:                os.Stdout,
	}
}
