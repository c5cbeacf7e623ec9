package importer

// janitor.go prunes finished import state. Sessions live in memory only (the
// UI reads the final summary and the session is discarded), so a periodic
// sweep keeps the service map from growing across a long-lived process.

import (
	"context"
	"log/slog"
	"time"
)

// DefaultJanitorInterval is how often finished imports are swept.
var DefaultJanitorInterval = time.Minute

// StartJanitor runs a background sweep that drops imports finished longer
// ago than the configured retention. It stops when ctx is cancelled.
func (s *Service) StartJanitor(ctx context.Context) {
	slog.Info("import janitor started", "retention", s.cfg.Retention)

	ticker := time.NewTicker(DefaultJanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("import janitor stopped")
			return
		case <-ticker.C:
			if n := s.pruneFinished(time.Now()); n > 0 {
				slog.Debug("pruned finished imports", "count", n)
			}
		}
	}
}

// pruneFinished removes imports whose retention window has elapsed and
// returns how many were dropped.
func (s *Service) pruneFinished(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for id, imp := range s.imports {
		select {
		case <-imp.Done:
		default:
			continue // still running
		}
		if now.Sub(imp.Finished) >= s.cfg.Retention {
			delete(s.imports, id)
			pruned++
		}
	}
	return pruned
}
