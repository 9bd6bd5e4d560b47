package main

import (
	"context"
	"os/exec"
	"strconv"
	"sync"

	"github.com/Sternrassler/endpoint-etl/pkg/ingest"
	"github.com/Sternrassler/endpoint-etl/pkg/logging"
)

// inhibitor is a command that keeps the machine awake while it runs.
type inhibitor struct {
	name string
	args []string
}

// inhibitors are tried in order; the first one found on PATH is used.
func inhibitors(pid int) []inhibitor {
	return []inhibitor{
		{"systemd-inhibit", []string{"--what=idle:sleep", "--who=endpoint-etl", "--why=ingest run", "--mode=block", "sleep", "infinity"}},
		{"caffeinate", []string{"-i", "-w", strconv.Itoa(pid)}},
	}
}

var lookPath = exec.LookPath

func findInhibitor(pid int) (inhibitor, bool) {
	for _, in := range inhibitors(pid) {
		if _, err := lookPath(in.name); err == nil {
			return in, true
		}
	}
	return inhibitor{}, false
}

// keepAwakeHooks starts an inhibitor when a run starts and stops it when
// the run ends. Without one it only logs a warning.
func keepAwakeHooks(pid int) ingest.Hooks {
	logger := logging.NewLogger("keep-awake")

	var mu sync.Mutex
	var cmd *exec.Cmd

	return ingest.Hooks{
		OnRunStart: func(ctx context.Context, runID string) {
			in, ok := findInhibitor(pid)
			if !ok {
				logger.Warn().Msg("No sleep inhibitor found (systemd-inhibit, caffeinate); the system may sleep during the run")
				return
			}
			c := exec.Command(in.name, in.args...)
			if err := c.Start(); err != nil {
				logger.Warn().Err(err).Str("command", in.name).Msg("Failed to start sleep inhibitor")
				return
			}
			mu.Lock()
			cmd = c
			mu.Unlock()
			logger.Info().Str("command", in.name).Str("run_id", runID).Msg("Sleep inhibited")
		},
		OnRunEnd: func(ctx context.Context, report *ingest.Report) {
			mu.Lock()
			c := cmd
			cmd = nil
			mu.Unlock()
			if c == nil {
				return
			}
			_ = c.Process.Kill()
			_ = c.Wait()
			logger.Debug().Str("command", c.Path).Msg("Sleep inhibitor stopped")
		},
	}
}
