package importer

// Phase is the stage an import run is in. Transitions are linear:
// idle -> parsing -> uploading -> summarizing -> done. Parse-fatal errors
// move straight to failed; everything after parsing completes through
// summarizing to done, including cancelled and partially failed runs.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseParsing     Phase = "parsing"
	PhaseUploading   Phase = "uploading"
	PhaseSummarizing Phase = "summarizing"
	PhaseDone        Phase = "done"
	PhaseFailed      Phase = "failed"
)

// Totals are the running counters for one logical import, summed across
// batch responses. All counters are monotonically non-decreasing.
type Totals struct {
	Processed int `json:"processed"`
	Inserted  int `json:"inserted"`
	Skipped   int `json:"skipped"`
	Invalid   int `json:"invalid"`
	Incoming  int `json:"incoming"`
	Outgoing  int `json:"outgoing"`
}

// Add folds another set of counters into t.
func (t *Totals) Add(o Totals) {
	t.Processed += o.Processed
	t.Inserted += o.Inserted
	t.Skipped += o.Skipped
	t.Invalid += o.Invalid
	t.Incoming += o.Incoming
	t.Outgoing += o.Outgoing
}

// ImportSession accumulates the state of one logical import run. It is owned
// exclusively by the orchestrator while the run is active; there are no
// concurrent writers because chunk dispatch is sequential.
type ImportSession struct {
	// SyncID is assigned by the ingestion endpoint on the first batch and
	// carried on every subsequent batch of the same run.
	SyncID string `json:"sync_id,omitempty"`

	Totals Totals `json:"totals"`

	// InvalidRecords holds per-record diagnostics plus one synthetic entry
	// per failed chunk. Unbounded here; the UI truncates for display.
	InvalidRecords []InvalidRecord `json:"invalid_records,omitempty"`

	// UnmatchedPhones are phone identifiers the endpoint could not attribute
	// to a contact, deduplicated in first-seen order.
	UnmatchedPhones []string `json:"unmatched_phones,omitempty"`

	// SkippedRows counts rows that never became records: tokenizer-level
	// parse failures plus structurally unmappable rows. Distinct from
	// normalization-level invalid records.
	SkippedRows int `json:"skipped_rows,omitempty"`

	// Warnings carries non-fatal per-chunk failure notices.
	Warnings []string `json:"warnings,omitempty"`

	// Summary is the human-readable result message composed after all
	// chunks complete.
	Summary string `json:"summary,omitempty"`

	// Cancelled is set when the run stopped early on a cancel signal; the
	// totals then cover only the chunks dispatched before the stop.
	Cancelled bool `json:"cancelled,omitempty"`

	seen map[string]bool
}

// NewImportSession returns an empty session ready for one run. Sessions are
// not reused across runs.
func NewImportSession() *ImportSession {
	return &ImportSession{seen: make(map[string]bool)}
}

// AddUnmatched merges phone identifiers into the deduplicated set,
// preserving first-seen order.
func (s *ImportSession) AddUnmatched(phones []string) {
	for _, p := range phones {
		if p == "" || s.seen[p] {
			continue
		}
		s.seen[p] = true
		s.UnmatchedPhones = append(s.UnmatchedPhones, p)
	}
}

// AddInvalid records an excluded record and bumps the invalid counter.
func (s *ImportSession) AddInvalid(rec CommunicationRecord, reason string) {
	s.InvalidRecords = append(s.InvalidRecords, InvalidRecord{Record: rec, Reason: reason})
	s.Totals.Invalid++
}
