// Package retention deletes stored buckets and archive files once they are
// older than the retention of their resolution.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/xtxerr/strata/internal/collection"
	"github.com/xtxerr/strata/internal/filter"
	"github.com/xtxerr/strata/internal/logging"
	"github.com/xtxerr/strata/internal/timeseries"
	"github.com/xtxerr/strata/internal/timeseries/archive"
)

// Policy maps resolutions to how long their data is kept. A resolution
// without an entry is kept forever.
type Policy struct {
	// Buckets is the retention of the stored buckets per resolution.
	Buckets map[time.Duration]time.Duration

	// ArchiveDir and Archive set the retention of the archive files of
	// every resolution. Zero keeps them forever.
	ArchiveDir string
	Archive    time.Duration
}

// Manager applies a Policy to the collections of a time series.
type Manager struct {
	mu          sync.Mutex
	policy      Policy
	collections map[time.Duration]collection.Collection[*timeseries.Bucket]
	now         func() time.Time
	stats       Stats
	log         *slog.Logger
}

// Stats holds retention statistics.
type Stats struct {
	LastRunTime    time.Time
	BucketsDeleted int64
	FilesDeleted   int64
	BytesFreed     int64
	Errors         int64
}

// CleanupResult holds the result of one resolution's cleanup.
type CleanupResult struct {
	Resolution     time.Duration
	Cutoff         int64
	BucketsDeleted int64
	FilesDeleted   int
	BytesFreed     int64
	Errors         []error
}

// New creates a manager over collections. now defaults to time.Now.
func New(collections map[time.Duration]collection.Collection[*timeseries.Bucket], policy Policy, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{
		policy:      policy,
		collections: collections,
		now:         now,
		log:         logging.Component("retention"),
	}
}

// ForTimeSeries creates a manager over the collections of ts.
func ForTimeSeries(ts *timeseries.TimeSeries, policy Policy) *Manager {
	collections := make(map[time.Duration]collection.Collection[*timeseries.Bucket])
	for _, res := range ts.Aggregation().Resolutions() {
		collections[res] = ts.Collection(res)
	}
	return New(collections, policy, nil)
}

// RunCleanup deletes everything expired, finest resolution first.
func (m *Manager) RunCleanup(ctx context.Context) []CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.LastRunTime = m.now()

	var results []CleanupResult
	for _, res := range m.resolutions() {
		result := m.cleanup(ctx, res, false)
		results = append(results, result)

		m.stats.BucketsDeleted += result.BucketsDeleted
		m.stats.FilesDeleted += int64(result.FilesDeleted)
		m.stats.BytesFreed += result.BytesFreed
		m.stats.Errors += int64(len(result.Errors))
		for _, err := range result.Errors {
			m.log.Error("cleanup failed", "resolution", res.String(), "error", err)
		}
		if result.BucketsDeleted > 0 || result.FilesDeleted > 0 {
			m.log.Info("expired data deleted", "resolution", res.String(),
				"buckets", result.BucketsDeleted, "files", result.FilesDeleted)
		}
	}
	return results
}

// DryRun reports what RunCleanup would delete without deleting it.
func (m *Manager) DryRun(ctx context.Context) []CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []CleanupResult
	for _, res := range m.resolutions() {
		results = append(results, m.cleanup(ctx, res, true))
	}
	return results
}

// Run cleans up every period until ctx is done.
func (m *Manager) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunCleanup(ctx)
		}
	}
}

// Stats returns the accumulated statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Manager) resolutions() []time.Duration {
	out := make([]time.Duration, 0, len(m.collections))
	for res := range m.collections {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Manager) cleanup(ctx context.Context, res time.Duration, dryRun bool) CleanupResult {
	result := CleanupResult{Resolution: res}
	now := m.now()

	if keep, ok := m.policy.Buckets[res]; ok && keep > 0 {
		result.Cutoff = now.Add(-keep).UnixMilli()
		expired := filter.NewLt("begin", result.Cutoff)
		coll := m.collections[res]

		n, err := coll.Count(ctx, expired, 0)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("count %s: %w", coll.Name(), err))
		} else if n > 0 && !dryRun {
			if err := coll.Remove(ctx, expired); err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("remove from %s: %w", coll.Name(), err))
				n = 0
			}
		}
		result.BucketsDeleted = n
	}

	if m.policy.ArchiveDir != "" && m.policy.Archive > 0 {
		m.cleanupArchive(res, now.Add(-m.policy.Archive), dryRun, &result)
	}
	return result
}

func (m *Manager) cleanupArchive(res time.Duration, cutoff time.Time, dryRun bool, result *CleanupResult) {
	files, err := archive.Files(m.policy.ArchiveDir, res)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("list archive: %w", err))
		return
	}

	for _, path := range files {
		begin, err := archive.FileTime(path)
		if err != nil || !begin.Before(cutoff) {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		if !dryRun {
			if err := os.Remove(path); err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", path, err))
				continue
			}
		}
		result.FilesDeleted++
		result.BytesFreed += info.Size()
	}
}
