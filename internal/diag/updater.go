package diag

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Builder fills one Status. Builders must not perform blocking device I/O
// beyond what their owner permits; they run on the updater goroutine.
type Builder func(*Status)

// Sink receives finished reports (WebSocket hub, log, ...).
type Sink interface {
	PublishDiagnostics(Report)
}

// Updater periodically runs registered builders and publishes the combined
// report. The latest report is kept for the REST surface.
type Updater struct {
	logger     *zap.Logger
	hardwareID string

	mu       sync.RWMutex
	names    []string
	builders map[string]Builder
	sinks    []Sink
	latest   *Report
}

func NewUpdater(hardwareID string, logger *zap.Logger) *Updater {
	return &Updater{
		logger:     logger,
		hardwareID: hardwareID,
		builders:   make(map[string]Builder),
	}
}

func (u *Updater) Register(name string, b Builder) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, exists := u.builders[name]; !exists {
		u.names = append(u.names, name)
	}
	u.builders[name] = b
}

func (u *Updater) AddSink(s Sink) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sinks = append(u.sinks, s)
}

// Update runs all builders once and publishes the report.
func (u *Updater) Update() Report {
	u.mu.RLock()
	names := append([]string(nil), u.names...)
	builders := make([]Builder, 0, len(names))
	for _, n := range names {
		builders = append(builders, u.builders[n])
	}
	sinks := append([]Sink(nil), u.sinks...)
	u.mu.RUnlock()

	report := Report{
		ID:         uuid.New(),
		HardwareID: u.hardwareID,
		Timestamp:  time.Now(),
	}
	for i, b := range builders {
		status := Status{Name: names[i]}
		b(&status)
		report.Statuses = append(report.Statuses, status)

		if status.Level >= Error {
			u.logger.Error("diagnostic status",
				zap.String("name", status.Name),
				zap.String("message", status.Message))
		} else if status.Level == Warn {
			u.logger.Warn("diagnostic status",
				zap.String("name", status.Name),
				zap.String("message", status.Message))
		}
	}

	u.mu.Lock()
	u.latest = &report
	u.mu.Unlock()

	for _, s := range sinks {
		s.PublishDiagnostics(report)
	}
	return report
}

// Latest returns the most recent report, if any update has run.
func (u *Updater) Latest() (Report, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.latest == nil {
		return Report{}, false
	}
	return *u.latest, true
}

// Run updates on the given period until the context is cancelled.
func (u *Updater) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.Update()
		}
	}
}
