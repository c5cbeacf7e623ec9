package importer

// orchestrator.go drives the chunk loop: partition validated records into
// bounded batches, dispatch each batch sequentially to the ingestion
// endpoint under one sync id, merge per-batch results into the session, and
// isolate per-batch failures so one bad chunk degrades the result without
// aborting the run.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// DefaultChunkSize is the number of records dispatched per batch.
const DefaultChunkSize = 500

// DefaultBatchTimeout bounds a single batch dispatch. A timed-out batch is
// isolated like any other chunk failure.
const DefaultBatchTimeout = 60 * time.Second

// SyncTypeImport marks batches originating from a file import, as opposed to
// the endpoint's manual sync path.
const (
	SyncTypeImport = "import"
	SyncTypeManual = "manual"
)

// BatchRequest is the ingestion endpoint's per-batch request contract.
type BatchRequest struct {
	Communications []CommunicationRecord `json:"communications"`
	SyncType       string                `json:"sync_type"`
	UserID         string                `json:"user_id"`
	SyncID         string                `json:"sync_id,omitempty"`
	IsLastChunk    bool                  `json:"isLastChunk"`
	ForceImport    bool                  `json:"forceImport"`
	FileFormat     string                `json:"fileFormat,omitempty"`
}

// BatchResponse is the ingestion endpoint's per-batch response contract.
// The endpoint owns exact dedup/storage bookkeeping; the orchestrator only
// folds these counts into the running session.
type BatchResponse struct {
	SyncID          string          `json:"sync_id"`
	Processed       int             `json:"processed"`
	Inserted        int             `json:"inserted"`
	Skipped         int             `json:"skipped"`
	Invalid         int             `json:"invalid"`
	Incoming        int             `json:"incoming"`
	Outgoing        int             `json:"outgoing"`
	InvalidRecords  []InvalidRecord `json:"invalidRecords,omitempty"`
	UnmatchedPhones []string        `json:"unmatchedPhones,omitempty"`
	Status          string          `json:"status,omitempty"`
}

// BatchSender dispatches one batch to the ingestion endpoint. Implemented by
// ingest.Client; faked in tests.
type BatchSender interface {
	SendBatch(ctx context.Context, req BatchRequest) (*BatchResponse, error)
}

// ChunkSource yields successive chunks of normalized records. NextChunk
// returns io.EOF alongside the final (possibly empty) chunk. Percent reports
// how much of the source has been consumed, 0-100, or 0 when unknown.
type ChunkSource interface {
	NextChunk() ([]CommunicationRecord, error)
	Percent() int
}

// RunOptions carries per-run settings through the chunk loop.
type RunOptions struct {
	SyncType    string // defaults to SyncTypeImport
	ForceImport bool
	FileFormat  Format
	UserID      string

	// Progress receives a 0-100 value, guaranteed non-decreasing across
	// calls within one run.
	Progress func(percent int)

	// OnPhase observes state-machine transitions. Optional.
	OnPhase func(Phase)
}

// Orchestrator owns batching and dispatch for import runs. Chunks are sent
// strictly sequentially so the sync id from the first response can seed the
// rest and progress stays trivially monotonic.
type Orchestrator struct {
	sender       BatchSender
	chunkSize    int
	batchTimeout time.Duration
	logger       *slog.Logger
}

// NewOrchestrator creates an orchestrator dispatching through sender.
// Non-positive sizes and timeouts fall back to the defaults.
func NewOrchestrator(sender BatchSender, chunkSize int, batchTimeout time.Duration) *Orchestrator {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if batchTimeout <= 0 {
		batchTimeout = DefaultBatchTimeout
	}
	return &Orchestrator{
		sender:       sender,
		chunkSize:    chunkSize,
		batchTimeout: batchTimeout,
		logger:       slog.Default(),
	}
}

// Run imports an already-materialized record set: it is sliced into
// fixed-size chunks up front and fed through the same loop as streamed
// chunks.
func (o *Orchestrator) Run(ctx context.Context, records []CommunicationRecord, opts RunOptions) *ImportSession {
	return o.RunChunks(ctx, newSliceSource(records, o.chunkSize), opts)
}

// RunChunks imports chunks as they arrive from src. Both ingestion modes
// share this merge path.
//
// RunChunks never returns an error: per-chunk failures are folded into the
// session per the isolation contract, and the run always completes through
// summarizing to done.
func (o *Orchestrator) RunChunks(ctx context.Context, src ChunkSource, opts RunOptions) *ImportSession {
	if opts.SyncType == "" {
		opts.SyncType = SyncTypeImport
	}

	session := NewImportSession()
	phase := func(p Phase) {
		if opts.OnPhase != nil {
			opts.OnPhase(p)
		}
	}
	lastPercent := 0
	progress := func(p int) {
		if p < lastPercent {
			p = lastPercent
		}
		if p > 100 {
			p = 100
		}
		lastPercent = p
		if opts.Progress != nil {
			opts.Progress(p)
		}
	}

	phase(PhaseUploading)

	// Dispatch lags one batch behind the read so the final batch is known at
	// send time and carries the last-chunk marker, even when the file ends on
	// a chunk boundary or every trailing record fails the validity filter.
	chunkIdx := 0
	sent := 0
	var pending []CommunicationRecord
	pendingIdx := 0
	for {
		chunk, err := src.NextChunk()
		last := errors.Is(err, io.EOF)
		if err != nil && !last {
			// Mid-stream read failure: the remaining rows are gone, but the
			// chunks already merged stay accounted.
			session.Warnings = append(session.Warnings,
				fmt.Sprintf("input stream failed after chunk %d: %v", chunkIdx, err))
			last = true
		}

		if len(chunk) > 0 {
			chunkIdx++
			if batch := filterValid(session, chunk); len(batch) > 0 {
				if pending != nil {
					o.dispatchBatch(ctx, session, pending, pendingIdx, false, opts)
					sent++
				}
				pending, pendingIdx = batch, chunkIdx
			}
			progress(src.Percent())
		}

		if last {
			break
		}
		if ctx.Err() != nil {
			// Cooperative cancel: finish the chunk in flight, stop
			// scheduling more, and summarize partial totals.
			session.Cancelled = true
			session.Warnings = append(session.Warnings,
				fmt.Sprintf("import cancelled after %d chunks; totals are partial", sent))
			pending = nil
			break
		}
	}

	if pending != nil {
		o.dispatchBatch(ctx, session, pending, pendingIdx, true, opts)
	}

	phase(PhaseSummarizing)
	session.Summary = composeSummary(session)
	progress(100)
	phase(PhaseDone)
	return session
}

// filterValid strips records failing the validity filter into the session's
// invalid diagnostics and returns the dispatchable remainder. Both ingestion
// modes filter through here so they behave identically.
func filterValid(session *ImportSession, chunk []CommunicationRecord) []CommunicationRecord {
	batch := make([]CommunicationRecord, 0, len(chunk))
	for _, rec := range chunk {
		if rec.Valid() {
			batch = append(batch, rec)
			continue
		}
		session.AddInvalid(rec, rec.InvalidReason())
	}
	return batch
}

// dispatchBatch sends one pre-filtered batch and merges its response (or its
// failure) into the session exactly once.
func (o *Orchestrator) dispatchBatch(ctx context.Context, session *ImportSession, batch []CommunicationRecord, chunkIdx int, isLast bool, opts RunOptions) {
	req := BatchRequest{
		Communications: batch,
		SyncType:       opts.SyncType,
		UserID:         opts.UserID,
		SyncID:         session.SyncID,
		IsLastChunk:    isLast,
		ForceImport:    opts.ForceImport,
		FileFormat:     string(opts.FileFormat),
	}

	sendCtx, cancel := context.WithTimeout(ctx, o.batchTimeout)
	resp, err := o.sender.SendBatch(sendCtx, req)
	cancel()

	if err != nil {
		// Failure isolation: the whole chunk is counted invalid, one
		// synthetic diagnostic describes it, and the run continues.
		o.logger.Warn("batch dispatch failed",
			"chunk", chunkIdx,
			"records", len(batch),
			"error", err,
		)
		session.Totals.Invalid += len(batch)
		session.InvalidRecords = append(session.InvalidRecords, InvalidRecord{
			Reason: fmt.Sprintf("chunk %d failed to upload (%d records): %v", chunkIdx, len(batch), err),
		})
		session.Warnings = append(session.Warnings,
			fmt.Sprintf("chunk %d (%d records) was not imported: %v", chunkIdx, len(batch), err))
		return
	}

	if session.SyncID == "" && resp.SyncID != "" {
		session.SyncID = resp.SyncID
	}
	session.Totals.Add(Totals{
		Processed: resp.Processed,
		Inserted:  resp.Inserted,
		Skipped:   resp.Skipped,
		Invalid:   resp.Invalid,
		Incoming:  resp.Incoming,
		Outgoing:  resp.Outgoing,
	})
	session.InvalidRecords = append(session.InvalidRecords, resp.InvalidRecords...)
	session.AddUnmatched(resp.UnmatchedPhones)

	o.logger.Debug("batch merged",
		"chunk", chunkIdx,
		"sync_id", session.SyncID,
		"processed", resp.Processed,
		"inserted", resp.Inserted,
	)
}

// composeSummary builds the user-facing result message proportional to the
// totals, distinguishing real success from "processed but nothing imported".
func composeSummary(s *ImportSession) string {
	t := s.Totals
	switch {
	case t.Processed == 0 && t.Invalid == 0:
		return "no records to import"
	case t.Inserted == 0 && t.Processed > 0:
		return fmt.Sprintf("processed %d records but nothing was imported (%d duplicates, %d invalid)",
			t.Processed, t.Skipped, t.Invalid)
	case t.Inserted == 0:
		return fmt.Sprintf("nothing was imported; %d records were invalid", t.Invalid)
	default:
		msg := fmt.Sprintf("imported %d of %d records (%d incoming, %d outgoing)",
			t.Inserted, t.Processed, t.Incoming, t.Outgoing)
		if t.Skipped > 0 || t.Invalid > 0 {
			msg += fmt.Sprintf("; %d skipped as duplicates, %d invalid", t.Skipped, t.Invalid)
		}
		if n := len(s.UnmatchedPhones); n > 0 {
			msg += fmt.Sprintf("; %d phone numbers need contact resolution", n)
		}
		return msg
	}
}

// sliceSource adapts a materialized record set to the ChunkSource contract.
type sliceSource struct {
	records []CommunicationRecord
	size    int
	offset  int
}

func newSliceSource(records []CommunicationRecord, size int) *sliceSource {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &sliceSource{records: records, size: size}
}

func (s *sliceSource) NextChunk() ([]CommunicationRecord, error) {
	if s.offset >= len(s.records) {
		return nil, io.EOF
	}
	end := s.offset + s.size
	if end >= len(s.records) {
		end = len(s.records)
		chunk := s.records[s.offset:end]
		s.offset = end
		return chunk, io.EOF
	}
	chunk := s.records[s.offset:end]
	s.offset = end
	return chunk, nil
}

func (s *sliceSource) Percent() int {
	if len(s.records) == 0 {
		return 100
	}
	return s.offset * 100 / len(s.records)
}
