package importer

import "testing"

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
		want    Format
	}{
		{
			name:    "standard phone date message",
			headers: []string{"Phone Number", "Date", "Message"},
			want:    FormatStandard,
		},
		{
			name:    "standard with extra columns",
			headers: []string{"Name", "Phone", "Date Sent", "Body", "Notes"},
			want:    FormatStandard,
		},
		{
			name:    "vendor via session column",
			headers: []string{"Sender ID", "Message Date", "Text", "Chat Session"},
			want:    FormatVendorExport,
		},
		{
			name:    "vendor via sender trio plus type",
			headers: []string{"Sender ID", "Message Date", "Text", "Type"},
			want:    FormatVendorExport,
		},
		{
			name:    "vendor via sender trio plus service",
			headers: []string{"Sender", "Date", "Message", "Service"},
			want:    FormatVendorExport,
		},
		{
			name:    "session column alone forces vendor",
			headers: []string{"conversation_id", "whatever"},
			want:    FormatVendorExport,
		},
		{
			name:    "sender trio without discriminator is not vendor",
			headers: []string{"Sender ID", "Message Date", "Text"},
			want:    FormatUnknown,
		},
		{
			name:    "unrelated columns",
			headers: []string{"Invoice", "Amount", "Currency"},
			want:    FormatUnknown,
		},
		{
			name:    "empty headers",
			headers: nil,
			want:    FormatUnknown,
		},
		{
			name:    "case and whitespace insensitive",
			headers: []string{"  PHONE  ", "DATE", "MESSAGE"},
			want:    FormatStandard,
		},
		{
			name:    "BOM on first header cell",
			headers: []string{"\uFEFFphone", "date", "message"},
			want:    FormatStandard,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectFormat(tt.headers)
			if got != tt.want {
				t.Errorf("DetectFormat(%v) = %q, want %q", tt.headers, got, tt.want)
			}
			// Detection must be deterministic
			if again := DetectFormat(tt.headers); again != got {
				t.Errorf("DetectFormat not deterministic: %q then %q", got, again)
			}
		})
	}
}

func TestEffectiveFormat(t *testing.T) {
	tests := []struct {
		in    Format
		force bool
		want  Format
	}{
		{FormatStandard, false, FormatStandard},
		{FormatStandard, true, FormatStandard},
		{FormatVendorExport, false, FormatVendorExport},
		{FormatVendorExport, true, FormatVendorExport},
		{FormatUnknown, false, FormatUnknown},
		{FormatUnknown, true, FormatVendorExport},
	}

	for _, tt := range tests {
		got := EffectiveFormat(tt.in, tt.force)
		if got != tt.want {
			t.Errorf("EffectiveFormat(%q, %v) = %q, want %q", tt.in, tt.force, got, tt.want)
		}
	}
}
