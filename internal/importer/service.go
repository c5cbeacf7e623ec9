package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultImportTimeout is the maximum duration for one import run.
var DefaultImportTimeout = 10 * time.Minute

// DefaultRetention is how long finished import state is kept for result and
// progress queries before the janitor prunes it.
var DefaultRetention = 10 * time.Minute

// ErrNoRecords is returned when a file tokenizes to zero data rows. Like a
// missing header, this is parse-fatal: the run does not start.
var ErrNoRecords = errors.New("file contains no records")

// ErrFormatNotDetected is returned when the header row matches no known
// schema and force-import was not requested.
var ErrFormatNotDetected = errors.New("file format not recognized; retry with force import to attempt best-effort mapping")

// UnmatchedSink persists phones the ingestion endpoint could not attribute,
// so the resolution queue survives restarts. Implemented by contacts.Store.
type UnmatchedSink interface {
	RecordUnmatched(ctx context.Context, phones []string) error
}

// Progress is a snapshot of one import's state, fanned out to subscribers.
type Progress struct {
	ImportID string `json:"import_id"`
	FileName string `json:"file_name"`
	Phase    Phase  `json:"phase"`
	Percent  int    `json:"percent"`
	Error    string `json:"error,omitempty"`
}

// ServiceConfig carries the import service's tunables.
type ServiceConfig struct {
	ChunkSize     int
	BatchTimeout  time.Duration
	ImportTimeout time.Duration
	MaxConcurrent int
	MaxWait       time.Duration
	Retention     time.Duration
	UserID        string
}

// Service runs imports asynchronously: StartImport returns an import ID
// immediately, progress fans out to subscriber channels, and the final
// ImportSession is available from Result once the run completes.
type Service struct {
	orch    *Orchestrator
	sink    UnmatchedSink
	limiter *ImportLimiter
	cfg     ServiceConfig

	mu      sync.RWMutex
	imports map[string]*activeImport
}

type activeImport struct {
	ID       string
	FileName string
	Cancel   context.CancelFunc
	Done     chan struct{}
	Finished time.Time

	progressMu sync.RWMutex
	progress   Progress
	result     *ImportSession

	listenerMu sync.Mutex
	listeners  []chan Progress
}

// NewService wires the pipeline behind an async lifecycle. sink may be nil
// when unmatched-phone persistence is not configured.
func NewService(sender BatchSender, sink UnmatchedSink, cfg ServiceConfig) *Service {
	if cfg.ImportTimeout <= 0 {
		cfg.ImportTimeout = DefaultImportTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return &Service{
		orch:    NewOrchestrator(sender, cfg.ChunkSize, cfg.BatchTimeout),
		sink:    sink,
		limiter: NewImportLimiter(cfg.MaxConcurrent, cfg.MaxWait),
		cfg:     cfg,
		imports: make(map[string]*activeImport),
	}
}

// StartImport begins an asynchronous import of a fully buffered file.
// Parse-fatal problems (no header, no rows, undetectable format without
// force) are returned immediately and no run starts.
func (s *Service) StartImport(ctx context.Context, fileName string, data []byte, force bool) (string, error) {
	res, err := Tokenize(data)
	if err != nil {
		return "", err
	}
	if len(res.Rows) == 0 {
		return "", ErrNoRecords
	}

	format := DetectFormat(res.Headers)
	if format == FormatUnknown && !force {
		return "", ErrFormatNotDetected
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	imp, runCtx := s.register(fileName)

	go s.runGuarded(imp, func() {
		records := make([]CommunicationRecord, 0, len(res.Rows))
		dropped := 0
		for _, row := range res.Rows {
			rec, err := Normalize(row, format, force)
			if err != nil {
				// Structurally unmappable rows count as skipped so the totals
				// still account for every row in the file.
				dropped++
				continue
			}
			records = append(records, rec)
		}

		session := s.orch.RunChunks(runCtx, newSliceSource(records, s.orch.chunkSize), s.runOptions(imp, format, force))
		session.SkippedRows = res.Skipped + dropped
		s.finish(imp, session)
	})

	return imp.ID, nil
}

// StartImportStreaming begins an asynchronous import that reads the file
// incrementally, keeping memory at O(chunk) regardless of file size.
// fileSize feeds byte-based progress; pass 0 if unknown.
func (s *Service) StartImportStreaming(ctx context.Context, fileName string, r io.Reader, fileSize int64, force bool) (string, error) {
	counting := WrapReader(r, fileSize)
	tok, err := NewStreamTokenizer(counting)
	if err != nil {
		return "", err
	}

	format := DetectFormat(tok.Headers())
	if format == FormatUnknown && !force {
		return "", ErrFormatNotDetected
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	imp, runCtx := s.register(fileName)

	go s.runGuarded(imp, func() {
		src := &streamSource{
			tok:     tok,
			counter: counting,
			size:    s.orch.chunkSize,
			format:  format,
			force:   force,
		}
		session := s.orch.RunChunks(runCtx, src, s.runOptions(imp, format, force))
		session.SkippedRows = tok.Skipped() + src.dropped
		s.finish(imp, session)
	})

	return imp.ID, nil
}

// register creates the tracked import and its cancellable run context.
func (s *Service) register(fileName string) (*activeImport, context.Context) {
	runCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ImportTimeout)

	imp := &activeImport{
		ID:       uuid.New().String(),
		FileName: fileName,
		Cancel:   cancel,
		Done:     make(chan struct{}),
	}
	imp.progress = Progress{
		ImportID: imp.ID,
		FileName: fileName,
		Phase:    PhaseParsing,
	}

	s.mu.Lock()
	s.imports[imp.ID] = imp
	s.mu.Unlock()

	return imp, runCtx
}

// runGuarded executes the run with panic recovery so a crashed import still
// releases its limiter slot and unblocks result waiters.
func (s *Service) runGuarded(imp *activeImport, run func()) {
	defer s.limiter.Release()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in import",
				"import_id", imp.ID,
				"file", imp.FileName,
				"panic", r,
			)
			imp.update(func(p *Progress) {
				p.Phase = PhaseFailed
				p.Error = fmt.Sprintf("internal error: %v", r)
			})
			imp.notify()
			imp.Finished = time.Now()
			close(imp.Done)
			imp.closeListeners()
		}
	}()
	run()
}

// runOptions wires orchestrator callbacks into this import's progress state.
func (s *Service) runOptions(imp *activeImport, format Format, force bool) RunOptions {
	return RunOptions{
		SyncType:    SyncTypeImport,
		ForceImport: force,
		FileFormat:  EffectiveFormat(format, force),
		UserID:      s.cfg.UserID,
		Progress: func(percent int) {
			imp.update(func(p *Progress) { p.Percent = percent })
			imp.notify()
		},
		OnPhase: func(phase Phase) {
			imp.update(func(p *Progress) { p.Phase = phase })
			imp.notify()
		},
	}
}

// finish records the final session, persists unmatched phones, and releases
// waiters.
func (s *Service) finish(imp *activeImport, session *ImportSession) {
	if s.sink != nil && len(session.UnmatchedPhones) > 0 {
		sinkCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := s.sink.RecordUnmatched(sinkCtx, session.UnmatchedPhones); err != nil {
			slog.Warn("failed to persist unmatched phones",
				"import_id", imp.ID,
				"count", len(session.UnmatchedPhones),
				"error", err,
			)
			session.Warnings = append(session.Warnings,
				"unmatched phone numbers could not be queued for resolution")
		}
		cancel()
	}

	imp.progressMu.Lock()
	imp.result = session
	imp.progressMu.Unlock()

	imp.update(func(p *Progress) {
		p.Phase = PhaseDone
		p.Percent = 100
	})
	imp.notify()
	imp.Finished = time.Now()
	// Done closes before the listeners so a late subscriber either sees Done
	// and gets the immediate-close path, or registers in time to be closed
	// here.
	close(imp.Done)
	imp.closeListeners()

	slog.Info("import finished",
		"import_id", imp.ID,
		"file", imp.FileName,
		"sync_id", session.SyncID,
		"inserted", session.Totals.Inserted,
		"invalid", session.Totals.Invalid,
		"unmatched", len(session.UnmatchedPhones),
		"cancelled", session.Cancelled,
	)
}

// SubscribeProgress returns a channel receiving progress updates for the
// import. The current snapshot is delivered immediately and the channel is
// closed when the run completes.
func (s *Service) SubscribeProgress(importID string) (<-chan Progress, error) {
	imp, ok := s.lookup(importID)
	if !ok {
		return nil, fmt.Errorf("import not found: %s", importID)
	}

	ch := make(chan Progress, 16)

	imp.listenerMu.Lock()
	select {
	case <-imp.Done:
		// Already finished: deliver the final snapshot and close immediately
		// instead of registering a listener nobody will ever notify.
		ch <- imp.snapshot()
		close(ch)
	default:
		imp.listeners = append(imp.listeners, ch)
		ch <- imp.snapshot()
	}
	imp.listenerMu.Unlock()

	return ch, nil
}

// Progress returns the current snapshot without blocking.
func (s *Service) Progress(importID string) (Progress, error) {
	imp, ok := s.lookup(importID)
	if !ok {
		return Progress{}, fmt.Errorf("import not found: %s", importID)
	}
	return imp.snapshot(), nil
}

// Result blocks until the import completes and returns the final session.
func (s *Service) Result(ctx context.Context, importID string) (*ImportSession, error) {
	imp, ok := s.lookup(importID)
	if !ok {
		return nil, fmt.Errorf("import not found: %s", importID)
	}

	select {
	case <-imp.Done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	imp.progressMu.RLock()
	defer imp.progressMu.RUnlock()
	if imp.result == nil {
		return nil, fmt.Errorf("import %s failed: %s", importID, imp.progress.Error)
	}
	return imp.result, nil
}

// Cancel requests a cooperative stop: the chunk in flight completes, no
// further chunks are scheduled, and the session finishes with partial
// totals.
func (s *Service) Cancel(importID string) error {
	imp, ok := s.lookup(importID)
	if !ok {
		return fmt.Errorf("import not found: %s", importID)
	}
	imp.Cancel()
	return nil
}

// ActiveCount returns the number of imports currently running.
func (s *Service) ActiveCount() int { return s.limiter.ActiveCount() }

// WaitForDrain blocks until all active imports complete, for graceful
// shutdown.
func (s *Service) WaitForDrain(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

func (s *Service) lookup(importID string) (*activeImport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	imp, ok := s.imports[importID]
	return imp, ok
}

func (imp *activeImport) snapshot() Progress {
	imp.progressMu.RLock()
	defer imp.progressMu.RUnlock()
	return imp.progress
}

func (imp *activeImport) update(fn func(*Progress)) {
	imp.progressMu.Lock()
	fn(&imp.progress)
	imp.progressMu.Unlock()
}

func (imp *activeImport) notify() {
	snap := imp.snapshot()
	imp.listenerMu.Lock()
	for _, ch := range imp.listeners {
		select {
		case ch <- snap:
		default: // slow subscriber, drop rather than block dispatch
		}
	}
	imp.listenerMu.Unlock()
}

func (imp *activeImport) closeListeners() {
	imp.listenerMu.Lock()
	for _, ch := range imp.listeners {
		close(ch)
	}
	imp.listeners = nil
	imp.listenerMu.Unlock()
}

// streamSource adapts the streaming tokenizer to the ChunkSource contract,
// normalizing rows as they arrive.
type streamSource struct {
	tok     *StreamTokenizer
	counter *CountingReader
	size    int
	format  Format
	force   bool
	dropped int
}

func (s *streamSource) NextChunk() ([]CommunicationRecord, error) {
	rows, err := s.tok.ReadChunk(s.size)
	records := make([]CommunicationRecord, 0, len(rows))
	for _, row := range rows {
		rec, nerr := Normalize(row, s.format, s.force)
		if nerr != nil {
			// Counted into SkippedRows alongside tokenizer-level failures.
			s.dropped++
			continue
		}
		records = append(records, rec)
	}
	return records, err
}

func (s *streamSource) Percent() int { return s.counter.Percent() }
