// loam_stress drives a workload of concurrent index operations against a
// B+ tree index to shake out latching and eviction problems. Workload files
// hold one operation per line: "insert <key> <value>", "find <key>",
// "delete <key>" or "scan".
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"loamdb/pkg/bptree"
	"loamdb/pkg/buffer"
	"loamdb/pkg/config"
	"loamdb/pkg/disk"
	"loamdb/pkg/entry"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var maxDelay int64 = 10

// jitter returns a small random delay so clients interleave.
func jitter() time.Duration {
	return time.Duration(rand.Int63n(maxDelay)+1) * time.Millisecond
}

// parseWorkload reads one operation per line from the given file.
func parseWorkload(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	var workload []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			workload = append(workload, line)
		}
	}
	return workload, scanner.Err()
}

// runOp applies a single workload line to the index.
func runOp(index *bptree.BPlusTree, line string, logger *zap.Logger) error {
	fields := strings.Fields(line)
	argInt := func(i int) int64 {
		if i >= len(fields) {
			return 0
		}
		n, _ := strconv.ParseInt(fields[i], 10, 64)
		return n
	}
	switch fields[0] {
	case "insert":
		err := index.Insert(argInt(1), argInt(2))
		if err != nil && err != bptree.ErrDuplicateKey {
			return err
		}
	case "find":
		if _, _, err := index.GetValue(argInt(1)); err != nil {
			return err
		}
	case "delete":
		if err := index.Remove(argInt(1)); err != nil {
			return err
		}
	case "scan":
		it, err := index.Begin()
		if err != nil {
			return err
		}
		count := 0
		for !it.IsEnd() {
			count++
			if err := it.Next(); err != nil {
				it.Close()
				return err
			}
		}
		it.Close()
		logger.Debug("scanned index", zap.Int("entries", count))
	default:
		logger.Warn("unknown operation", zap.String("line", line))
	}
	return nil
}

func main() {
	var dbFlag = flag.String("db", "data/stress.db", "database file to run against")
	var workloadFlag = flag.String("workload", "", "workload file (required)")
	var nFlag = flag.Int("n", 1, "number of clients to run")
	var poolFlag = flag.Int("pool", config.DefaultPoolSize, "buffer pool size in frames")
	var leafFlag = flag.Int64("leaf", bptree.DefaultLeafMaxSize, "leaf page max size")
	var internalFlag = flag.Int64("internal", bptree.DefaultInternalMaxSize, "internal page max size")
	var verifyFlag = flag.Bool("verify", false, "verify index integrity after the workload")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if *workloadFlag == "" {
		fmt.Println("no workload file given")
		os.Exit(1)
	}
	workload, err := parseWorkload(*workloadFlag)
	if err != nil {
		logger.Fatal("failed to parse workload", zap.Error(err))
	}

	dm, err := disk.NewFileManager(*dbFlag, logger)
	if err != nil {
		logger.Fatal("failed to open database file", zap.Error(err))
	}
	defer dm.Close()
	pool := buffer.NewPool(*poolFlag, dm, logger)
	index, err := bptree.New("stress", pool, entry.CompareInts,
		bptree.WithLeafMaxSize(*leafFlag),
		bptree.WithInternalMaxSize(*internalFlag),
		bptree.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to open index", zap.Error(err))
	}

	start := time.Now()
	var group errgroup.Group
	for i := 0; i < *nFlag; i++ {
		client := i
		group.Go(func() error {
			for j := client; j < len(workload); j += *nFlag {
				time.Sleep(jitter())
				if err := runOp(index, workload[j], logger); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		logger.Fatal("workload failed", zap.Error(err))
	}
	logger.Info("workload complete",
		zap.Int("operations", len(workload)),
		zap.Int("clients", *nFlag),
		zap.Duration("elapsed", time.Since(start)))

	if *verifyFlag {
		if !index.Check() {
			logger.Fatal("index integrity check failed")
		}
		logger.Info("index integrity check passed")
	}
	if err := pool.FlushAllPages(); err != nil {
		logger.Fatal("failed to flush pages", zap.Error(err))
	}
}
