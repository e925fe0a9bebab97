// Command batchenqueue is the CLI wrapper for the batch enqueuer (C9),
// for environments that drive it from an external cron entry rather
// than through the HTTP cron-run-logic path. Exit codes follow spec
// §6: 0 success, 1 unrecoverable error, 2 lock held elsewhere (treated
// as success by callers, since the other holder is doing the work).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/automatabms/corefabric/internal/batchenqueue"
	"github.com/automatabms/corefabric/internal/config"
	"github.com/automatabms/corefabric/internal/eventlog"
	"github.com/automatabms/corefabric/internal/jobqueue"
	"github.com/automatabms/corefabric/internal/metricstore"
	"github.com/automatabms/corefabric/internal/statestore"
)

const (
	exitSuccess      = 0
	exitUnrecoverable = 1
	exitLockHeld      = 2
)

func main() {
	rosterPath := flag.String("roster", "roster.yaml", "Path to the equipment roster YAML file")
	force := flag.Bool("force", false, "Bypass the batch lock")
	timeout := flag.Duration("timeout", 55*time.Second, "Overall run timeout")
	flag.Parse()

	env, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUnrecoverable)
	}

	roster, err := config.LoadRoster(*rosterPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUnrecoverable)
	}

	eventlog.SetGlobal(eventlog.New("batchenqueue-cli"))

	state := statestore.New(statestore.Config{Addr: env.RedisAddr})
	defer state.Close()
	metrics := metricstore.New(metricstore.Config{URL: env.InfluxURL, Database: env.InfluxDatabase})
	defer metrics.Close()
	queue := jobqueue.New(env.RedisAddr)
	defer queue.Close()

	enq := batchenqueue.New(roster, state, metrics, queue, nil)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	summary, err := enq.Run(ctx, *force)
	if err != nil {
		fmt.Fprintf(os.Stderr, "batch run failed: %v\n", err)
		os.Exit(exitUnrecoverable)
	}

	if summary.LockSkipped {
		fmt.Printf("batch lock held elsewhere, skipped (run %s)\n", summary.RunID)
		os.Exit(exitLockHeld)
	}

	fmt.Printf("batch run %s: locations=%d equipment=%d queued=%d alreadyQueued=%d errors=%d\n",
		summary.RunID, summary.LocationsSeen, summary.EquipmentSeen, summary.Queued, summary.AlreadyQueued, summary.Errors)

	if summary.Errors > 0 {
		os.Exit(exitUnrecoverable)
	}
	os.Exit(exitSuccess)
}
