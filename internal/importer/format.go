package importer

import "strings"

// Format identifies which known CSV schema a file follows.
type Format string

const (
	// FormatStandard is the generic phone/date/message export most carrier
	// tools produce.
	FormatStandard Format = "standard"
	// FormatVendorExport is the session-oriented chat export (sender id,
	// message date, text, type/service, chat session columns).
	FormatVendorExport Format = "vendor_export"
	// FormatUnknown means no known schema matched the header row.
	FormatUnknown Format = "unknown"
)

// Header alias sets used by detection. Matching is case-insensitive and
// ignores a leading BOM on the first column.
var (
	phoneColumns = []string{
		"phone", "phone number", "phone_number", "number", "contact phone",
		"contact_phone", "from", "to", "address",
	}
	dateColumns = []string{
		"date", "timestamp", "time", "message date", "message_date",
		"date sent", "date_sent", "sent", "received",
	}
	messageColumns = []string{
		"text", "message", "content", "body", "message body", "message_body",
	}
	senderColumns = []string{
		"sender id", "sender_id", "sender", "sender name", "sender_name",
	}
	sessionColumns = []string{
		"chat session", "chat_session", "session id", "session_id",
		"conversation id", "conversation_id", "thread id", "thread_id",
	}
	typeColumns = []string{
		"type", "message type", "message_type", "direction", "status",
	}
	serviceColumns = []string{
		"service", "service type", "service_type", "platform",
	}
)

// DetectFormat classifies a header row against the known schemas. It is a
// pure function: same headers always yield the same classification regardless
// of case, surrounding whitespace, or a UTF-8 BOM.
func DetectFormat(headers []string) Format {
	set := headerSet(headers)
	if len(set) == 0 {
		return FormatUnknown
	}

	hasAny := func(aliases []string) bool {
		for _, a := range aliases {
			if set[a] {
				return true
			}
		}
		return false
	}

	// Vendor chat exports either carry a native session column, or the full
	// sender/date/text trio plus a type or service discriminator.
	if hasAny(sessionColumns) {
		return FormatVendorExport
	}
	if hasAny(senderColumns) && hasAny(dateColumns) && hasAny(messageColumns) &&
		(hasAny(typeColumns) || hasAny(serviceColumns)) {
		return FormatVendorExport
	}

	if hasAny(phoneColumns) && hasAny(dateColumns) && hasAny(messageColumns) {
		return FormatStandard
	}

	return FormatUnknown
}

// EffectiveFormat applies force-import semantics: an unknown format is
// treated as a vendor export so the alias mapper can attempt a best-effort
// import. Unknown is never silently upgraded to standard.
func EffectiveFormat(f Format, force bool) Format {
	if force && f == FormatUnknown {
		return FormatVendorExport
	}
	return f
}

// headerSet lowercases, trims, and BOM-strips the headers into a lookup set.
func headerSet(headers []string) map[string]bool {
	set := make(map[string]bool, len(headers))
	for _, h := range headers {
		h = CleanHeader(h)
		if h != "" {
			set[h] = true
		}
	}
	return set
}

// CleanHeader normalizes a single header cell for alias matching.
func CleanHeader(h string) string {
	h = strings.TrimPrefix(h, "\uFEFF")
	return strings.ToLower(strings.TrimSpace(h))
}
