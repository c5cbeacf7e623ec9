package importer

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestNormalize_VendorExport(t *testing.T) {
	row := Row{
		"sender id":    "+15551234567",
		"message date": "2023-10-15 14:30:25",
		"text":         "Hello world",
		"type":         "Incoming",
	}

	rec, err := Normalize(row, FormatVendorExport, false)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	if rec.ContactPhone != "+15551234567" {
		t.Errorf("ContactPhone = %q, want %q", rec.ContactPhone, "+15551234567")
	}
	if rec.Direction != DirectionIncoming {
		t.Errorf("Direction = %q, want incoming", rec.Direction)
	}
	if rec.Type != RecordText {
		t.Errorf("Type = %q, want text", rec.Type)
	}
	if rec.Content != "Hello world" {
		t.Errorf("Content = %q", rec.Content)
	}
	if rec.Timestamp != "2023-10-15T14:30:25.000Z" {
		t.Errorf("Timestamp = %q, want %q", rec.Timestamp, "2023-10-15T14:30:25.000Z")
	}
	if !rec.Valid() {
		t.Errorf("record should be valid: %s", rec.InvalidReason())
	}
}

func TestNormalize_Standard(t *testing.T) {
	row := Row{
		"phone":   "+1 (555) 123-4567",
		"name":    "Ada",
		"date":    "2023-10-15T09:00:00Z",
		"message": "see you there",
	}

	rec, err := Normalize(row, FormatStandard, false)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	if rec.ContactPhone != "+15551234567" {
		t.Errorf("ContactPhone = %q, want canonical digits", rec.ContactPhone)
	}
	if rec.ContactName != "Ada" {
		t.Errorf("ContactName = %q", rec.ContactName)
	}
	// No direction column defaults to outgoing
	if rec.Direction != DirectionOutgoing {
		t.Errorf("Direction = %q, want outgoing", rec.Direction)
	}
}

func TestNormalize_NonPhoneSenderBecomesName(t *testing.T) {
	row := Row{
		"sender id":    "alerts@example.com",
		"message date": "2023-10-15",
		"text":         "your code is 1234",
		"type":         "SMS",
	}

	rec, err := Normalize(row, FormatVendorExport, false)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	if rec.ContactPhone != ValueUnknown {
		t.Errorf("ContactPhone = %q, want unknown", rec.ContactPhone)
	}
	if rec.ContactName != "alerts@example.com" {
		t.Errorf("ContactName = %q", rec.ContactName)
	}
	// No phone and no session means the record is excluded
	if rec.Valid() {
		t.Error("record without phone or session should be invalid")
	}
}

func TestNormalize_SessionFallback(t *testing.T) {
	row := Row{
		"message date": "2023-10-15",
		"text":         "hi",
		"type":         "iMessage",
		"chat session": "+15551234567",
	}

	rec, err := Normalize(row, FormatVendorExport, false)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	// A phone-shaped session is promoted to the phone field
	if rec.ContactPhone != "+15551234567" {
		t.Errorf("ContactPhone = %q, want promoted session", rec.ContactPhone)
	}
	if rec.ChatSession != "+15551234567" {
		t.Errorf("ChatSession = %q", rec.ChatSession)
	}
	if !rec.Valid() {
		t.Errorf("record should be valid: %s", rec.InvalidReason())
	}
}

func TestNormalize_SessionKeepsRecordValid(t *testing.T) {
	row := Row{
		"message date": "2023-10-15",
		"text":         "hi",
		"chat session": "group-chat-42",
	}

	rec, err := Normalize(row, FormatVendorExport, false)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	if rec.ContactPhone != ValueUnknown {
		t.Errorf("ContactPhone = %q, want unknown", rec.ContactPhone)
	}
	if !rec.Valid() {
		t.Error("record with a chat session should stay valid without a phone")
	}
}

func TestNormalize_MissingTimestampIsInvalid(t *testing.T) {
	row := Row{
		"phone":   "+15551234567",
		"message": "hello",
	}

	rec, err := Normalize(row, FormatStandard, false)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	if rec.Timestamp != ValueUnknown {
		t.Errorf("Timestamp = %q, want unknown", rec.Timestamp)
	}
	if rec.Valid() {
		t.Error("record without timestamp should be invalid")
	}
}

func TestNormalize_UnparseableTimestampFallsBackToNow(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	orig := nowFunc
	nowFunc = func() time.Time { return fixed }
	defer func() { nowFunc = orig }()

	row := Row{
		"phone":   "+15551234567",
		"date":    "not a date at all zzz",
		"message": "hello",
	}

	rec, err := Normalize(row, FormatStandard, false)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	if rec.Timestamp != "2024-01-02T03:04:05.000Z" {
		t.Errorf("Timestamp = %q, want fallback to now", rec.Timestamp)
	}
	if !rec.Valid() {
		t.Error("record with fallback timestamp should be valid")
	}
}

func TestNormalize_UnknownFormat(t *testing.T) {
	row := Row{"phone": "+15551234567"}

	_, err := Normalize(row, FormatUnknown, false)
	if !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("error = %v, want ErrUnknownFormat", err)
	}

	// Force import maps unknown onto the vendor alias table
	if _, err := Normalize(row, FormatUnknown, true); err != nil {
		t.Errorf("forced Normalize() error = %v", err)
	}
}

func TestNormalize_EmptyRow(t *testing.T) {
	_, err := Normalize(Row{}, FormatStandard, false)
	if !errors.Is(err, ErrEmptyRow) {
		t.Errorf("error = %v, want ErrEmptyRow", err)
	}
}

func TestInferDirection(t *testing.T) {
	tests := []struct {
		in   string
		want Direction
	}{
		{"Incoming", DirectionIncoming},
		{"incoming call", DirectionIncoming},
		{"Outgoing", DirectionOutgoing},
		{"Sent", DirectionOutgoing},
		{"Missed", DirectionMissed},
		{"missed call", DirectionMissed},
		{"", DirectionOutgoing},
		{"SMS", DirectionOutgoing},
		{"whatever", DirectionOutgoing},
	}

	for _, tt := range tests {
		if got := inferDirection(tt.in); got != tt.want {
			t.Errorf("inferDirection(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLooksLikePhone(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"+15551234567", true},
		{"5551234567", true},
		{"(555) 123-4567", false}, // separators break the digit run
		{"555123456", false},
		{"alerts@example.com", false},
		{"+short", true}, // plus alone marks it phone-shaped
		{"", false},
	}

	for _, tt := range tests {
		if got := looksLikePhone(tt.in); got != tt.want {
			t.Errorf("looksLikePhone(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTruncateContent(t *testing.T) {
	short := "hello"
	if got := TruncateContent(short); got != short {
		t.Errorf("short content modified: %q", got)
	}

	long := strings.Repeat("a", MaxContentBytes+100)
	got := TruncateContent(long)
	if len(got) != MaxContentBytes {
		t.Errorf("truncated length = %d, want %d", len(got), MaxContentBytes)
	}

	// Truncation never splits a rune
	multibyte := strings.Repeat("é", MaxContentBytes)
	got = TruncateContent(multibyte)
	if len(got) > MaxContentBytes {
		t.Errorf("truncated length = %d, exceeds cap", len(got))
	}
	if !utf8.ValidString(got) {
		t.Error("truncation produced invalid UTF-8")
	}

	// Idempotent
	if again := TruncateContent(got); again != got {
		t.Error("TruncateContent not idempotent")
	}
}
