package maintenance

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"pdfnotes/internal/extract"
)

const (
	pruneJobsSchedule = "0 */10 * * * *"
	sweepTempSchedule = "0 */30 * * * *"

	// StaleTempAge is how old an OCR scratch directory must be before it is swept.
	StaleTempAge = time.Hour
)

// JobPruner drops finished background jobs.
type JobPruner interface {
	Prune(olderThan time.Duration) int
}

// Manager runs periodic housekeeping for the server.
type Manager struct {
	cron      *cron.Cron
	jobs      JobPruner
	retention time.Duration
	tempDir   string
}

func NewManager(jobs JobPruner, retention time.Duration) *Manager {
	return &Manager{
		cron:      cron.New(cron.WithSeconds()),
		jobs:      jobs,
		retention: retention,
		tempDir:   os.TempDir(),
	}
}

// Start registers the housekeeping jobs and starts the scheduler.
func (m *Manager) Start() error {
	if _, err := m.cron.AddFunc(pruneJobsSchedule, m.PruneJobs); err != nil {
		return err
	}
	if _, err := m.cron.AddFunc(sweepTempSchedule, m.SweepTemp); err != nil {
		return err
	}
	m.cron.Start()
	log.Println("maintenance: scheduler started")
	return nil
}

// Stop waits for running jobs to finish.
func (m *Manager) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
	log.Println("maintenance: scheduler stopped")
}

func (m *Manager) PruneJobs() {
	if n := m.jobs.Prune(m.retention); n > 0 {
		log.Printf("maintenance: pruned %d analysis jobs", n)
	}
}

func (m *Manager) SweepTemp() {
	n, err := SweepTempDirs(m.tempDir, StaleTempAge, time.Now())
	if err != nil {
		log.Printf("maintenance: sweep %s: %v", m.tempDir, err)
	}
	if n > 0 {
		log.Printf("maintenance: removed %d stale OCR directories", n)
	}
}

// SweepTempDirs removes OCR scratch directories under dir that were last
// modified more than olderThan before now. Extraction normally cleans up after
// itself; this catches directories left behind by a crash.
func SweepTempDirs(dir string, olderThan time.Duration, now time.Time) (int, error) {
	prefix := strings.TrimSuffix(extract.TempDirPattern, "*")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	cutoff := now.Add(-olderThan)
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Printf("maintenance: remove %s: %v", path, err)
			continue
		}
		removed++
	}
	return removed, nil
}
