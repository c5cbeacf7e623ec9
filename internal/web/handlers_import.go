package web

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/commsync/commsync/internal/importer"
)

// streamingThreshold is the file size above which uploads are parsed
// incrementally instead of buffered. Small files buffer so parse-fatal
// errors on row counts surface before the request returns.
const streamingThreshold = 4 << 20

// handleStartImport accepts a multipart CSV upload and starts an
// asynchronous import. Responds with the import id to poll or subscribe on.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "file too large or invalid form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	force, _ := strconv.ParseBool(r.FormValue("force"))

	var importID string
	if header.Size > streamingThreshold {
		importID, err = s.imports.StartImportStreaming(r.Context(), header.Filename, file, header.Size, force)
	} else {
		data, rerr := io.ReadAll(file)
		if rerr != nil {
			writeError(w, http.StatusBadRequest, "failed to read file")
			return
		}
		importID, err = s.imports.StartImport(r.Context(), header.Filename, data, force)
	}
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"import_id": importID})
}

// handleImportProgress streams progress updates via Server-Sent Events.
func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	progressCh, err := s.imports.SubscribeProgress(importID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Heartbeat keeps intermediaries from closing an idle stream between
	// chunk completions.
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case progress, open := <-progressCh:
			if !open {
				fmt.Fprint(w, "event: done\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n",
				progress.Percent, mustJSON(progress))
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// handleImportResult blocks until the import completes and returns the final
// session summary.
func (s *Server) handleImportResult(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	session, err := s.imports.Result(r.Context(), importID)
	if err != nil {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, resultView(session))
}

// handleCancelImport requests a cooperative stop of a running import.
func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	if err := s.imports.Cancel(importID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// maxInvalidDisplay caps the invalid-record diagnostics in the result view.
// The session keeps them all; the response stays bounded.
const maxInvalidDisplay = 100

type importResult struct {
	SyncID          string                   `json:"sync_id,omitempty"`
	Summary         string                   `json:"summary"`
	Totals          importer.Totals          `json:"totals"`
	SkippedRows     int                      `json:"skipped_rows"`
	Cancelled       bool                     `json:"cancelled,omitempty"`
	Warnings        []string                 `json:"warnings,omitempty"`
	InvalidRecords  []importer.InvalidRecord `json:"invalid_records,omitempty"`
	InvalidOmitted  int                      `json:"invalid_omitted,omitempty"`
	UnmatchedPhones []string                 `json:"unmatched_phones,omitempty"`
}

func resultView(s *importer.ImportSession) importResult {
	res := importResult{
		SyncID:          s.SyncID,
		Summary:         s.Summary,
		Totals:          s.Totals,
		SkippedRows:     s.SkippedRows,
		Cancelled:       s.Cancelled,
		Warnings:        s.Warnings,
		InvalidRecords:  s.InvalidRecords,
		UnmatchedPhones: s.UnmatchedPhones,
	}
	if len(res.InvalidRecords) > maxInvalidDisplay {
		res.InvalidOmitted = len(res.InvalidRecords) - maxInvalidDisplay
		res.InvalidRecords = res.InvalidRecords[:maxInvalidDisplay]
	}
	return res
}
