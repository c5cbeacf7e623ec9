// Package importer implements the communication-log import pipeline.
//
// The pipeline converts heterogeneous CSV exports of calls and texts into a
// single canonical record shape and ships the result to the remote ingestion
// endpoint in bounded batches:
//
//	raw file -> DetectFormat -> Tokenize -> Normalize -> validity filter
//	         -> Orchestrator (chunk, dispatch, merge) -> ImportSession summary
//
// Two tokenization modes share one output shape: Tokenize materializes the
// whole file (previews, small uploads) while StreamTokenizer emits rows
// incrementally so large files stay at O(chunk) memory.
//
// The Service wraps the pipeline in an asynchronous lifecycle: imports run in
// background goroutines, progress fans out to subscriber channels, and a
// janitor prunes finished runs after a retention window.
//
// This package has no UI dependencies and can be driven by any frontend.
package importer
