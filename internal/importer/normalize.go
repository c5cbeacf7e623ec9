package importer

// normalize.go maps schema-specific rows onto the canonical
// CommunicationRecord. Field resolution is a declarative alias table per
// format consumed by one generic resolver, so adding a source format is a
// data change, not a code change.
//
// Failure is encoded in the record, not raised: a row the normalizer cannot
// attribute comes back with "unknown" in the affected field and is filtered
// by Valid() downstream. Only structurally malformed input (an empty row, an
// unknown format) is a hard error.

import (
	"errors"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// ErrUnknownFormat is returned when normalization is asked to map a row for
// a format it has no alias table for.
var ErrUnknownFormat = errors.New("no alias table for format")

// ErrEmptyRow is returned for a row with no fields, which indicates the file
// had no usable header row.
var ErrEmptyRow = errors.New("row has no fields")

// timestampLayout is the ISO-8601 instant shape the ingestion endpoint
// expects.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// nowFunc supplies the fallback instant for unparseable timestamps.
// Swappable in tests.
var nowFunc = time.Now

// Canonical field names probed through the alias tables.
const (
	fieldPhone     = "phone"
	fieldName      = "name"
	fieldDate      = "date"
	fieldMessage   = "message"
	fieldDirection = "direction"
	fieldSession   = "session"
)

// fieldAliases lists, per format and canonical field, the acceptable header
// names in probe order. First match against the row's keys wins; absence
// leaves the canonical field empty rather than erroring.
var fieldAliases = map[Format]map[string][]string{
	FormatStandard: {
		fieldPhone: {
			"phone", "phone number", "phone_number", "contact phone",
			"contact_phone", "number", "from", "to", "address",
		},
		fieldName: {
			"name", "contact name", "contact_name", "contact", "display name",
			"display_name",
		},
		fieldDate: {
			"date", "timestamp", "message date", "message_date", "date sent",
			"date_sent", "time", "sent", "received",
		},
		fieldMessage: {
			"message", "text", "content", "body", "message body",
			"message_body",
		},
		fieldDirection: {
			"direction", "type", "message type", "message_type", "status",
		},
		fieldSession: {
			"chat session", "chat_session", "session id", "session_id",
		},
	},
	FormatVendorExport: {
		fieldPhone: {
			"sender id", "sender_id", "phone", "phone number", "phone_number",
			"sender", "address",
		},
		fieldName: {
			"sender name", "sender_name", "name", "contact name",
			"contact_name",
		},
		fieldDate: {
			"message date", "message_date", "date", "timestamp", "date sent",
			"date_sent", "time",
		},
		fieldMessage: {
			"text", "message", "body", "content", "message body",
			"message_body",
		},
		fieldDirection: {
			"type", "message type", "message_type", "direction", "status",
		},
		fieldSession: {
			"chat session", "chat_session", "session id", "session_id",
			"conversation id", "conversation_id", "thread id", "thread_id",
		},
	},
}

// Normalize converts one tokenized row into the canonical record for the
// given format. forceImport relaxes detection the same way EffectiveFormat
// does, so callers can pass the raw detection result straight through.
func Normalize(row Row, format Format, forceImport bool) (CommunicationRecord, error) {
	if len(row) == 0 {
		return CommunicationRecord{}, ErrEmptyRow
	}

	format = EffectiveFormat(format, forceImport)
	aliases, ok := fieldAliases[format]
	if !ok {
		return CommunicationRecord{}, ErrUnknownFormat
	}

	resolve := func(field string) string {
		for _, alias := range aliases[field] {
			if v, ok := row[alias]; ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}

	session := resolve(fieldSession)
	name := resolve(fieldName)

	phone := ""
	if raw := resolve(fieldPhone); raw != "" {
		if looksLikePhone(raw) {
			phone = canonicalPhone(raw)
		} else if name == "" {
			// A sender identifier that is not phone-shaped (an email, a short
			// code) still makes a usable display name.
			name = raw
		}
	}
	if phone == "" && session != "" {
		if name == "" {
			name = session
		}
		if looksLikePhone(session) {
			phone = canonicalPhone(session)
		}
	}
	if phone == "" {
		phone = ValueUnknown
	}

	return CommunicationRecord{
		ContactPhone: phone,
		ContactName:  name,
		Direction:    inferDirection(resolve(fieldDirection)),
		Type:         RecordText,
		Content:      TruncateContent(resolve(fieldMessage)),
		Timestamp:    coerceTimestamp(resolve(fieldDate)),
		ChatSession:  session,
	}, nil
}

// inferDirection maps a free-form type/direction value onto the closed
// direction set. Ambiguous input defaults to outgoing rather than surfacing
// a fourth state to downstream consumers.
func inferDirection(raw string) Direction {
	v := strings.ToLower(raw)
	switch {
	case strings.Contains(v, "incoming"):
		return DirectionIncoming
	case strings.Contains(v, "outgoing"), strings.Contains(v, "sent"):
		return DirectionOutgoing
	case strings.Contains(v, "missed"):
		return DirectionMissed
	default:
		return DirectionOutgoing
	}
}

// coerceTimestamp resolves a source timestamp to an ISO-8601 instant. An
// absent value is "unknown" (the record becomes invalid); a present but
// unparseable value falls back to the current time so permissive imports
// keep the row.
func coerceTimestamp(raw string) string {
	if raw == "" {
		return ValueUnknown
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return nowFunc().UTC().Format(timestampLayout)
	}
	return t.UTC().Format(timestampLayout)
}

// looksLikePhone reports whether a value is phone-shaped: it carries a plus
// prefix or at least ten consecutive digits.
func looksLikePhone(s string) bool {
	if strings.Contains(s, "+") {
		return true
	}
	run := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			run++
			if run >= 10 {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

// canonicalPhone strips everything but digits, restoring a leading plus when
// the original had one.
func canonicalPhone(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return s
	}
	if strings.HasPrefix(s, "+") {
		return "+" + digits
	}
	return digits
}
