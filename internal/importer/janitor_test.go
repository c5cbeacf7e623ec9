package importer

import (
	"context"
	"testing"
	"time"
)

func TestPruneFinished(t *testing.T) {
	svc := testService(newFakeSender(), nil)
	svc.cfg.Retention = time.Minute

	id, err := svc.StartImport(context.Background(), "comms.csv", csvFixture(10), false)
	if err != nil {
		t.Fatalf("StartImport() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := svc.Result(ctx, id); err != nil {
		t.Fatalf("Result() error = %v", err)
	}

	// Within retention: kept
	if n := svc.pruneFinished(time.Now()); n != 0 {
		t.Errorf("pruneFinished() = %d while inside retention, want 0", n)
	}
	if _, err := svc.Progress(id); err != nil {
		t.Errorf("import pruned too early: %v", err)
	}

	// Past retention: dropped
	if n := svc.pruneFinished(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Errorf("pruneFinished() past retention = %d, want 1", n)
	}
	if _, err := svc.Progress(id); err == nil {
		t.Error("import should be gone after prune")
	}
}
