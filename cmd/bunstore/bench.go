package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/kartikbazzad/bunbase/bunstore"
	"github.com/kartikbazzad/bunbase/bunstore/storage"
)

type benchConfig struct {
	Concurrency int
	TotalOps    int
	ReadRatio   float64 // 0.0 to 1.0 (e.g. 0.8 for 80% reads)
	Indexed     bool
}

type benchResult struct {
	Ops        int
	Errors     int
	Duration   time.Duration
	Throughput float64
	AvgLatency float64 // ms
	P50        float64 // ms
	P99        float64 // ms
}

func newBenchCmd() *cobra.Command {
	cfg := benchConfig{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run a mixed insert/find workload against an in-memory collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Concurrency <= 0 || cfg.TotalOps <= 0 {
				return fmt.Errorf("concurrency and ops must be positive")
			}
			db, err := openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Workers: %d\nTotal Ops: %d\nRead Ratio: %.2f\nIndexed: %v\n",
				cfg.Concurrency, cfg.TotalOps, cfg.ReadRatio, cfg.Indexed)

			res, err := runBench(cmd.Context(), db, cfg)
			if err != nil {
				return err
			}
			printBench(out, res)
			return nil
		},
	}
	cmd.Flags().IntVarP(&cfg.Concurrency, "concurrency", "c", 10, "number of concurrent workers")
	cmd.Flags().IntVarP(&cfg.TotalOps, "ops", "n", 10000, "total number of operations")
	cmd.Flags().Float64Var(&cfg.ReadRatio, "ratio", 0.5, "read ratio (0.0=write only, 1.0=read only)")
	cmd.Flags().BoolVar(&cfg.Indexed, "index", true, "index the queried field")
	return cmd
}

func runBench(ctx context.Context, db *bunstore.Database, cfg benchConfig) (*benchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	col, err := db.Collection("bench")
	if err != nil {
		return nil, err
	}
	if cfg.Indexed {
		if err := col.EnsureIndex(ctx, storage.IndexOptions{FieldName: "worker"}); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	opsPerWorker := cfg.TotalOps / cfg.Concurrency

	latencies := make(chan time.Duration, cfg.TotalOps)
	errs := make(chan error, cfg.TotalOps)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))

			for j := 0; j < opsPerWorker; j++ {
				opStart := time.Now()
				var err error
				if r.Float64() < cfg.ReadRatio {
					_, err = col.Find(map[string]interface{}{
						"worker": r.Intn(cfg.Concurrency),
						"iter":   map[string]interface{}{"$gte": r.Intn(opsPerWorker + 1)},
					}).Sort(bunstore.SortSpec{{Field: "iter", Direction: -1}}).Limit(10).Exec(ctx)
				} else {
					_, err = col.Insert(ctx, storage.Document{
						"worker": id,
						"iter":   j,
						"data":   "some useful payload",
						"ts":     time.Now().UnixNano(),
					})
				}
				if err != nil {
					errs <- err
				}
				latencies <- time.Since(opStart)
			}
		}(i)
	}

	wg.Wait()
	close(latencies)
	close(errs)

	res := &benchResult{Duration: time.Since(start)}

	var total time.Duration
	var latList []float64
	for l := range latencies {
		total += l
		latList = append(latList, float64(l.Microseconds())/1000.0)
	}
	var firstErr error
	for err := range errs {
		res.Errors++
		if firstErr == nil {
			firstErr = err
		}
	}
	if res.Errors > 0 && res.Errors == len(latList) {
		return nil, fmt.Errorf("every operation failed: %w", firstErr)
	}

	res.Ops = len(latList)
	if res.Ops == 0 {
		return res, nil
	}
	res.Throughput = float64(res.Ops) / res.Duration.Seconds()
	res.AvgLatency = float64(total.Microseconds()) / 1000.0 / float64(res.Ops)

	sort.Float64s(latList)
	res.P50 = latList[int(float64(len(latList))*0.50)]
	res.P99 = latList[int(float64(len(latList)-1)*0.99)]
	return res, nil
}

func printBench(w io.Writer, res *benchResult) {
	fmt.Fprintln(w, "\nResults:")
	fmt.Fprintf(w, "   Duration:    %v\n", res.Duration)
	fmt.Fprintf(w, "   Throughput:  %.2f ops/sec\n", res.Throughput)
	fmt.Fprintf(w, "   Avg Latency: %.3f ms\n", res.AvgLatency)
	fmt.Fprintf(w, "   P50 Latency: %.3f ms\n", res.P50)
	fmt.Fprintf(w, "   P99 Latency: %.3f ms\n", res.P99)
	errPct := 0.0
	if res.Ops > 0 {
		errPct = float64(res.Errors) / float64(res.Ops) * 100
	}
	fmt.Fprintf(w, "   Errors:      %d (%.2f%%)\n", res.Errors, errPct)
}
