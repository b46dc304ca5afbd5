// Package janitor runs scheduled maintenance: dropping stale terminal
// tasks from the registry and removing orphaned scratch files left by
// interrupted runs.
package janitor

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/convertworks/convertd/internal/engine"
)

// scratchGlob matches convertd scratch file names in the temp dir. The
// supervisor's loudnorm measurement pass discards its output and writes no
// scratch files, so this sweep is defensive cleanup only.
const scratchGlob = "convertd-*"

// Janitor owns the maintenance schedule.
type Janitor struct {
	registry  *engine.Registry
	tempDir   string
	retention time.Duration
	logger    *slog.Logger
	cron      *cron.Cron
}

// New creates a janitor over the given registry. tempDir is the directory
// swept for scratch files; empty means the OS temp dir.
func New(registry *engine.Registry, tempDir string, retention time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Janitor{
		registry:  registry,
		tempDir:   tempDir,
		retention: retention,
		logger:    logger.With(slog.String("component", "janitor")),
		cron:      cron.New(),
	}
}

// Start begins the schedule. The schedule string uses cron syntax,
// including descriptors like "@every 10m".
func (j *Janitor) Start(schedule string) error {
	if _, err := j.cron.AddFunc(schedule, j.Sweep); err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop halts the schedule, waiting for a running sweep to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

// Sweep runs one maintenance pass. Also called once at startup to clean
// up after a previous run.
func (j *Janitor) Sweep() {
	dropped := j.registry.DropStaleTerminal(j.retention)
	removed := j.removeOrphanedScratch()

	if dropped > 0 || removed > 0 {
		j.logger.Info("maintenance sweep",
			slog.Int("tasks_dropped", dropped),
			slog.Int("scratch_removed", removed),
		)
	}
}

// removeOrphanedScratch deletes matching scratch files older than the
// retention window; newer ones are left in place.
func (j *Janitor) removeOrphanedScratch() int {
	matches, err := filepath.Glob(filepath.Join(j.tempDir, scratchGlob))
	if err != nil {
		return 0
	}

	cutoff := time.Now().Add(-j.retention)
	removed := 0
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err == nil {
			removed++
		}
	}
	return removed
}
