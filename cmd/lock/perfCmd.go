package lock

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dLock/cmd/util"
	"github.com/ValentinKolb/dLock/lib/lock"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:   "perf",
		Short: "Performance testing tool for dLock backends",
		Long: `Runs the distributed counter scenario: every worker repeatedly locks one of the
perf locks, increments the counter guarded by it and unlocks it again. At the end
the counters are checked against the number of increments.`,
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfLockPrefix = "__perf"
	perfWorkers    = 10
	perfLocks      = 4
	perfIterations = 100
	perfLease      time.Duration
	perfShared     bool
)

// percentiles reported for every timer
var perfPercentiles = []float64{0.5, 0.95, 0.99}

func init() {
	// add flags
	key := "workers"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of concurrent workers, each with its own owner"))
	key = "locks"
	perfTestCmd.Flags().Int(key, 4, util.WrapString("Number of distinct locks the workers compete for"))
	key = "iterations"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("Lock and unlock cycles per worker"))
	key = "lease"
	perfTestCmd.Flags().Duration(key, 0, util.WrapString("Lease of every acquisition (0 for no lease)"))
	key = "shared"
	perfTestCmd.Flags().Bool(key, false, util.WrapString("Use shared (fair) locks, one per worker and lock name"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfWorkers = max(1, viper.GetInt("workers"))
	perfLocks = max(1, viper.GetInt("locks"))
	perfIterations = max(1, viper.GetInt("iterations"))
	perfLease = viper.GetDuration("lease")
	perfShared = viper.GetBool("shared")

	return nil
}

// perfCounter is the value guarded by one perf lock. Load and Store are
// separate so that overlapping holders lose increments.
type perfCounter struct {
	value atomic.Int64
}

func (c *perfCounter) increment() {
	c.value.Store(c.value.Load() + 1)
}

func runPerf(cmd *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for dLock backends")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("Backend: %s (%v)\n", viper.GetString("backend"), gateway)
	if viper.GetString("backend") == "rpc" {
		fmt.Println(util.GetClientConfig().String())
	}
	fmt.Printf("Workers: %d, Locks: %d, Iterations: %d, Lease: %s, Shared: %v\n", perfWorkers, perfLocks, perfIterations, perfLease, perfShared)
	fmt.Println()

	fmt.Println("starting test...")

	registry := metrics.NewRegistry()
	acquireTimer := metrics.GetOrRegisterTimer("acquire", registry)
	releaseTimer := metrics.GetOrRegisterTimer("release", registry)
	cycleTimer := metrics.GetOrRegisterTimer("cycle", registry)
	throughput := metrics.GetOrRegisterMeter("throughput", registry)
	defer throughput.Stop()
	errorCount := metrics.GetOrRegisterCounter("errors", registry)

	counters := make([]perfCounter, perfLocks)
	names := make([]string, perfLocks)
	for i := range names {
		names[i] = fmt.Sprintf("%s-%d", perfLockPrefix, i)
	}

	// locks left over from an aborted run would block the workers
	if err := forceUnlockAll(cmd.Context(), names); err != nil {
		return err
	}

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < perfWorkers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			if err := perfWorker(cmd.Context(), w, names, counters, acquireTimer, releaseTimer, cycleTimer, throughput); err != nil {
				errorCount.Inc(1)
				fmt.Printf("worker %d failed: %v\n", w, err)
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// verify the counters
	var total int64
	for i := range counters {
		total += counters[i].value.Load()
	}
	expected := int64(perfWorkers * perfIterations)

	fmt.Println()
	fmt.Printf("%-12s%s\n", "duration", elapsed)
	fmt.Printf("%-12s%d / %d\n", "increments", total, expected)
	fmt.Printf("%-12s%d\n", "errors", errorCount.Count())
	fmt.Printf("%-12s%.0f ops/sec\n", "throughput", float64(throughput.Count())/elapsed.Seconds())
	fmt.Println()
	printTimers(registry)

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, registry, elapsed); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	if total != expected {
		return fmt.Errorf("mutual exclusion violated: %d increments counted, expected %d", total, expected)
	}
	return nil
}

// perfWorker runs the lock cycles of one worker
func perfWorker(
	ctx context.Context,
	worker int,
	names []string,
	counters []perfCounter,
	acquireTimer, releaseTimer, cycleTimer metrics.Timer,
	throughput metrics.Meter,
) error {
	ctx = lock.WithOwner(ctx, lock.NewOwner())

	locks := make([]*lock.DistributedLock, len(names))
	for i, name := range names {
		var err error
		if perfShared {
			locks[i], err = lock.NewSharedLock(name, gateway, nil)
		} else {
			locks[i], err = lock.NewLock(name, gateway, nil)
		}
		if err != nil {
			return err
		}
		defer locks[i].Close()
	}

	for i := 0; i < perfIterations; i++ {
		idx := (worker + i) % len(locks)
		l := locks[idx]

		cycleStart := time.Now()
		var err error
		if perfLease > 0 {
			err = l.LockTimed(ctx, perfLease)
		} else {
			err = l.Lock(ctx)
		}
		if err != nil {
			return fmt.Errorf("lock %s: %w", l.Name(), err)
		}
		acquireTimer.UpdateSince(cycleStart)

		counters[idx].increment()

		releaseStart := time.Now()
		if err := l.Unlock(ctx); err != nil {
			return fmt.Errorf("unlock %s: %w", l.Name(), err)
		}
		releaseTimer.UpdateSince(releaseStart)
		cycleTimer.UpdateSince(cycleStart)
		throughput.Mark(1)
	}
	return nil
}

// forceUnlockAll deletes the perf locks
func forceUnlockAll(ctx context.Context, names []string) error {
	for _, name := range names {
		l, err := lock.NewLock(name, gateway, nil)
		if err != nil {
			return err
		}
		_, err = l.ForceUnlock(ctx)
		_ = l.Close()
		if err != nil {
			return fmt.Errorf("failed to reset lock %s: %w", name, err)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// timerNames returns the names of all timers of the registry in order
func timerNames(registry metrics.Registry) []string {
	var names []string
	registry.Each(func(name string, i interface{}) {
		if _, ok := i.(metrics.Timer); ok {
			names = append(names, name)
		}
	})
	sort.Strings(names)
	return names
}

// printTimers prints the timers of the registry in a formatted way
func printTimers(registry metrics.Registry) {
	header := []string{"timer", "count", "mean"}
	for _, p := range perfPercentiles {
		header = append(header, fmt.Sprintf("p%g", p*100))
	}
	header = append(header, "max")
	fmt.Println(strings.Join(header, "\t"))

	for _, name := range timerNames(registry) {
		t := registry.Get(name).(metrics.Timer).Snapshot()
		row := []string{name, strconv.FormatInt(t.Count(), 10), time.Duration(t.Mean()).String()}
		for _, v := range t.Percentiles(perfPercentiles) {
			row = append(row, time.Duration(v).String())
		}
		row = append(row, time.Duration(t.Max()).String())
		fmt.Println(strings.Join(row, "\t"))
	}
}

// writeResultsToCSV writes the timers of the registry to a CSV file
func writeResultsToCSV(csvPath string, registry metrics.Registry, elapsed time.Duration) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{"Timer", "Count", "MeanNs"}
	for _, p := range perfPercentiles {
		header = append(header, fmt.Sprintf("P%gNs", p*100))
	}
	header = append(header,
		"MaxNs", "DurationNs",
		"Backend", "Serializer", "Transport", "ShardID",
		"Workers", "Locks", "Iterations", "LeaseMs", "Shared",
	)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, name := range timerNames(registry) {
		t := registry.Get(name).(metrics.Timer).Snapshot()
		row := []string{name, strconv.FormatInt(t.Count(), 10), fmt.Sprintf("%.0f", t.Mean())}
		for _, v := range t.Percentiles(perfPercentiles) {
			row = append(row, fmt.Sprintf("%.0f", v))
		}
		row = append(row,
			strconv.FormatInt(t.Max(), 10),
			strconv.FormatInt(elapsed.Nanoseconds(), 10),
			viper.GetString("backend"),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.FormatUint(util.GetShardID(), 10),
			strconv.Itoa(perfWorkers),
			strconv.Itoa(perfLocks),
			strconv.Itoa(perfIterations),
			strconv.FormatInt(perfLease.Milliseconds(), 10),
			strconv.FormatBool(perfShared),
		)

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for timer %s: %v", name, err)
		}
	}

	return nil
}
