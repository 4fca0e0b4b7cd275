// tier runs a built-in workload on the mixed-mode runtime and reports what
// the adaptive compiler did with it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/tiervm/config"
	"github.com/chazu/tiervm/vm"
)

func main() {
	configDir := flag.String("config", ".", "Directory to search upward for tiervm.toml")
	name := flag.String("w", "fib", "Workload to run")
	iterations := flag.Int64("n", 50, "Workload iterations")
	verbosity := flag.Int("v", 0, "Log verbosity (overrides [debug] verbosity when non-zero)")
	noJIT := flag.Bool("no-jit", false, "Keep every unit interpreted")
	fullTrace := flag.Bool("full-trace", false, "Disable flag analysis for every unit")
	jitThreshold := flag.Int64("jit-threshold", -1, "Override [jit] jit-threshold")
	drainTimeout := flag.Duration("drain", 10*time.Second, "How long to wait for queued compilations")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tier [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a built-in workload and prints compiler and call-site telemetry.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nWorkloads: %s\n", workloadNames())
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  tier -w poly -n 200          # Polymorphic call site\n")
		fmt.Fprintf(os.Stderr, "  tier -w loop -no-jit         # Interpreter only\n")
		fmt.Fprintf(os.Stderr, "  tier -w fib -jit-threshold 1 # Compile on first call\n")
	}
	flag.Parse()

	cfg, err := config.FindAndLoad(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cfg == nil {
		cfg = config.Default()
	}

	v := cfg.Debug.Verbosity
	if *verbosity != 0 {
		v = *verbosity
	}
	commonlog.Configure(v, nil)

	opts := cfg.Options()
	if *noJIT {
		opts.JITEnabled = false
	}
	if *fullTrace {
		opts.FullTrace = true
	}
	if *jitThreshold >= 0 {
		opts.JITThreshold = *jitThreshold
	}

	if err := run(opts, *name, *iterations, *drainTimeout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts vm.Options, name string, n int64, drainTimeout time.Duration) error {
	w, err := lookupWorkload(name)
	if err != nil {
		return err
	}

	rt, err := vm.NewRuntime(opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	w.setup(rt)
	start := time.Now()
	result, err := rt.Run(w.main(n))
	if err != nil {
		return fmt.Errorf("workload %s: %w", name, err)
	}
	elapsed := time.Since(start)

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := rt.JIT().Drain(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	shown, err := rt.Call(result, "inspect")
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", name, w.desc)
	fmt.Printf("result   %v\n", shown)
	fmt.Printf("elapsed  %s\n\n", elapsed)

	printJITStats(rt.JIT().Stats())
	return printUnits(rt)
}

func printJITStats(s vm.JITStats) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "native compilations\t%d\n", s.Successes)
	fmt.Fprintf(tw, "full builds\t%d\n", s.FullBuilds)
	fmt.Fprintf(tw, "failures\t%d\n", s.Failures)
	fmt.Fprintf(tw, "abandoned\t%d\n", s.Abandons)
	fmt.Fprintf(tw, "excluded\t%d\n", s.Excluded)
	fmt.Fprintf(tw, "content store hits\t%d\n", s.StoreHits)
	fmt.Fprintf(tw, "code size avg/largest\t%.1f / %d\n", s.CodeSizeAverage(), s.CodeSizeLargest)
	fmt.Fprintf(tw, "IR size avg/largest\t%.1f / %d\n", s.IRSizeAverage(), s.IRSizeLargest)
	fmt.Fprintf(tw, "compile time total/avg\t%s / %s\n", s.CompileTimeTotal, s.CompileTimeAverage())
	tw.Flush()
	fmt.Println()
}

// printUnits lists the methods the workload defined on Object with their
// tier and call-site caches.
func printUnits(rt *vm.Runtime) error {
	methods := rt.Object.UnitMethods()
	sort.Slice(methods, func(i, j int) bool { return methods[i].Unit().Name() < methods[j].Unit().Name() })

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "UNIT\tCALLS\tSTATE\tSITE\tCACHE\tHITS\tMISSES\tGENERIC\n")
	for _, m := range methods {
		u := m.Unit()
		code, err := u.Code()
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t\t\t\t\t\n", u.Name(), u.Calls(), u.State())
		for _, site := range code.Sites.CallSites() {
			st := site.Stats()
			fmt.Fprintf(tw, "\t\t\t%s\t%s\t%d\t%d\t%d\n", st.Name, st.State, st.Hits, st.Misses, st.Generic)
		}
	}
	return tw.Flush()
}
