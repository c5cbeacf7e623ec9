package importer

// Direction classifies a communication relative to the account owner.
// Normalization never emits a fourth state: an undeterminable direction
// defaults to DirectionOutgoing.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
	DirectionMissed   Direction = "missed"
)

// RecordType distinguishes texts from calls. The CSV pipeline currently only
// produces texts; calls arrive through a different sync path.
type RecordType string

const (
	RecordText RecordType = "text"
	RecordCall RecordType = "call"
)

// ValueUnknown marks a field the normalizer could not resolve. A record
// carrying it in ContactPhone or Timestamp is a candidate for exclusion, see
// Valid.
const ValueUnknown = "unknown"

// MaxContentBytes is the hard cap on message body size. Oversized content is
// truncated, never rejected.
const MaxContentBytes = 65000

// CommunicationRecord is the canonical post-normalization shape every source
// format is converted into. Field tags follow the ingestion endpoint's wire
// contract.
type CommunicationRecord struct {
	ContactPhone string     `json:"contact_phone"`
	ContactName  string     `json:"contact_name,omitempty"`
	Direction    Direction  `json:"direction"`
	Type         RecordType `json:"type"`
	Content      string     `json:"content"`
	Timestamp    string     `json:"timestamp"`
	ChatSession  string     `json:"chat_session,omitempty"`
}

// Valid reports whether the record may be sent downstream. A record without a
// resolvable timestamp, or without either a phone or a chat session to join
// on, is excluded from batches but still counted and reported.
func (r CommunicationRecord) Valid() bool {
	if r.Timestamp == ValueUnknown {
		return false
	}
	if r.ContactPhone == ValueUnknown && r.ChatSession == "" {
		return false
	}
	return true
}

// InvalidReason explains why a record fails the validity filter. Empty for
// valid records.
func (r CommunicationRecord) InvalidReason() string {
	switch {
	case r.Timestamp == ValueUnknown:
		return "no resolvable timestamp"
	case r.ContactPhone == ValueUnknown && r.ChatSession == "":
		return "no phone number or chat session to attribute"
	default:
		return ""
	}
}

// InvalidRecord pairs an excluded record with the reason it was excluded.
// Accumulated in the session diagnostics for operator review.
type InvalidRecord struct {
	Record CommunicationRecord `json:"record"`
	Reason string              `json:"reason"`
}

// TruncateContent enforces MaxContentBytes without splitting a UTF-8 rune.
// Applying it twice yields the same result.
func TruncateContent(s string) string {
	if len(s) <= MaxContentBytes {
		return s
	}
	cut := MaxContentBytes
	// Back up past any continuation bytes so the cut lands on a rune boundary.
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}
