package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"charasync/internal/domain"
	"charasync/internal/domain/ports"
	"charasync/internal/metrics"
)

// DiskPressure checks free space on the cache directory and pauses data
// download on every fetching swarm session when it drops below MinFreeBytes.
// Sessions keep seeding. Fetching resumes once free space is back above
// ResumeBytes.
type DiskPressure struct {
	Swarm        ports.FetchController
	Events       ports.EventSink
	Logger       *slog.Logger
	DataDir      string
	MinFreeBytes int64
	ResumeBytes  int64
	Interval     time.Duration
	// FreeBytes overrides the filesystem probe.
	FreeBytes func(path string) (int64, error)
}

// Run blocks until ctx is cancelled. Fetching is resumed on exit if this
// loop paused it.
func (dp DiskPressure) Run(ctx context.Context) {
	interval := dp.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if dp.ResumeBytes <= dp.MinFreeBytes {
		dp.ResumeBytes = dp.MinFreeBytes * 2
	}

	paused := false
	defer func() {
		if paused {
			dp.resume(0)
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			paused = dp.check(paused)
		}
	}
}

// check runs one probe and returns the new paused state.
func (dp DiskPressure) check(paused bool) bool {
	probe := dp.FreeBytes
	if probe == nil {
		probe = diskFreeBytes
	}
	free, err := probe(dp.DataDir)
	if err != nil {
		dp.Logger.Warn("disk_pressure: failed to check disk space",
			slog.String("path", dp.DataDir),
			slog.String("error", err.Error()),
		)
		return paused
	}

	switch {
	case !paused && free < dp.MinFreeBytes:
		dp.Logger.Warn("disk_pressure: low disk space, pausing fetching sessions",
			slog.Int64("freeBytes", free),
			slog.Int64("thresholdBytes", dp.MinFreeBytes),
		)
		n := dp.Swarm.PauseFetching()
		metrics.SwarmPausedByPressure.Set(1)
		dp.emit(domain.Event{
			Kind:     domain.EventSwarmPaused,
			Severity: domain.SeverityWarning,
			Message:  fmt.Sprintf("low disk space (%d bytes free), paused %d downloads", free, n),
		})
		return true
	case paused && free >= dp.ResumeBytes:
		dp.Logger.Info("disk_pressure: disk space recovered, resuming fetching",
			slog.Int64("freeBytes", free),
			slog.Int64("resumeBytes", dp.ResumeBytes),
		)
		dp.resume(free)
		return false
	}
	return paused
}

func (dp DiskPressure) resume(free int64) {
	n := dp.Swarm.ResumeFetching()
	metrics.SwarmPausedByPressure.Set(0)
	dp.emit(domain.Event{
		Kind:     domain.EventSwarmResumed,
		Severity: domain.SeverityInfo,
		Message:  fmt.Sprintf("resumed %d downloads (%d bytes free)", n, free),
	})
}

func (dp DiskPressure) emit(ev domain.Event) {
	if dp.Events != nil {
		dp.Events.Publish(ev)
	}
}
