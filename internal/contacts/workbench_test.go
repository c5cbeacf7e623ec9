package contacts

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

type fakeStore struct {
	unresolved  []PhoneMapping
	previews    map[string]PhonePreview
	previewErr  error
	createCalls int
	linkCalls   int
	linkErr     error
	createErr   error
}

func (f *fakeStore) Unresolved(ctx context.Context) ([]PhoneMapping, error) {
	return f.unresolved, nil
}

func (f *fakeStore) Preview(ctx context.Context, phone string) (PhonePreview, error) {
	if f.previewErr != nil {
		return PhonePreview{}, f.previewErr
	}
	return f.previews[phone], nil
}

func (f *fakeStore) CreateAndLink(ctx context.Context, phone string, c NewContact) (string, error) {
	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	return "contact-1", nil
}

func (f *fakeStore) LinkExisting(ctx context.Context, phone, contactID string) error {
	f.linkCalls++
	return f.linkErr
}

func TestQueue(t *testing.T) {
	store := &fakeStore{
		unresolved: []PhoneMapping{
			{PhoneNumber: "+15550000001", ContactName: "Unknown A"},
			{PhoneNumber: "+15550000002"},
		},
		previews: map[string]PhonePreview{
			"+15550000001": {LastMessage: "see you at 6", MessageCount: 12},
		},
	}
	w := NewWorkbench(store)

	entries, err := w.Queue(context.Background())
	if err != nil {
		t.Fatalf("Queue() error = %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	// Store ordering preserved
	if entries[0].PhoneNumber != "+15550000001" || entries[1].PhoneNumber != "+15550000002" {
		t.Errorf("order = %q, %q", entries[0].PhoneNumber, entries[1].PhoneNumber)
	}
	if entries[0].Preview.LastMessage != "see you at 6" || entries[0].Preview.MessageCount != 12 {
		t.Errorf("preview = %+v", entries[0].Preview)
	}
}

func TestQueue_PreviewFailureKeepsEntry(t *testing.T) {
	store := &fakeStore{
		unresolved: []PhoneMapping{{PhoneNumber: "+15550000001"}},
		previewErr: errors.New("db timeout"),
	}
	w := NewWorkbench(store)

	entries, err := w.Queue(context.Background())
	if err != nil {
		t.Fatalf("Queue() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1 (preview is best-effort)", len(entries))
	}
	if entries[0].Preview.LastMessage != "" {
		t.Errorf("preview = %+v, want zero value", entries[0].Preview)
	}
}

func TestQueue_PreviewTruncated(t *testing.T) {
	long := strings.Repeat("é", PreviewMaxChars+50)
	store := &fakeStore{
		unresolved: []PhoneMapping{{PhoneNumber: "+15550000001"}},
		previews:   map[string]PhonePreview{"+15550000001": {LastMessage: long}},
	}
	w := NewWorkbench(store)

	entries, err := w.Queue(context.Background())
	if err != nil {
		t.Fatalf("Queue() error = %v", err)
	}

	got := entries[0].Preview.LastMessage
	if utf8.RuneCountInString(got) != PreviewMaxChars {
		t.Errorf("preview runes = %d, want %d", utf8.RuneCountInString(got), PreviewMaxChars)
	}
	if !utf8.ValidString(got) {
		t.Error("truncation split a rune")
	}
}

func TestCreateAndLink(t *testing.T) {
	store := &fakeStore{}
	w := NewWorkbench(store)

	id, err := w.CreateAndLink(context.Background(), "+15550000001", NewContact{FirstName: "Ada"})
	if err != nil {
		t.Fatalf("CreateAndLink() error = %v", err)
	}
	if id != "contact-1" {
		t.Errorf("contact id = %q", id)
	}
	if store.createCalls != 1 {
		t.Errorf("create calls = %d, want 1", store.createCalls)
	}
}

func TestCreateAndLink_Validation(t *testing.T) {
	store := &fakeStore{}
	w := NewWorkbench(store)

	if _, err := w.CreateAndLink(context.Background(), "", NewContact{FirstName: "Ada"}); !errors.Is(err, ErrMappingNotFound) {
		t.Errorf("empty phone error = %v, want ErrMappingNotFound", err)
	}
	if _, err := w.CreateAndLink(context.Background(), "+15550000001", NewContact{}); err == nil {
		t.Error("nameless contact should be rejected")
	}
	if store.createCalls != 0 {
		t.Errorf("store reached despite validation failure: %d calls", store.createCalls)
	}
}

func TestCreateAndLink_Conflict(t *testing.T) {
	store := &fakeStore{createErr: ErrAlreadyResolved}
	w := NewWorkbench(store)

	_, err := w.CreateAndLink(context.Background(), "+15550000001", NewContact{FirstName: "Ada"})
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("error = %v, want ErrAlreadyResolved", err)
	}
}

func TestLinkExisting(t *testing.T) {
	store := &fakeStore{}
	w := NewWorkbench(store)

	if err := w.LinkExisting(context.Background(), "+15550000001", "contact-7"); err != nil {
		t.Fatalf("LinkExisting() error = %v", err)
	}
	if store.linkCalls != 1 {
		t.Errorf("link calls = %d, want 1", store.linkCalls)
	}
}

func TestLinkExisting_Validation(t *testing.T) {
	store := &fakeStore{}
	w := NewWorkbench(store)

	if err := w.LinkExisting(context.Background(), "", "contact-7"); !errors.Is(err, ErrMappingNotFound) {
		t.Errorf("empty phone error = %v, want ErrMappingNotFound", err)
	}
	if err := w.LinkExisting(context.Background(), "+15550000001", ""); !errors.Is(err, ErrContactNotFound) {
		t.Errorf("empty contact error = %v, want ErrContactNotFound", err)
	}
	if store.linkCalls != 0 {
		t.Errorf("store reached despite validation failure: %d calls", store.linkCalls)
	}
}

func TestLinkExisting_Idempotent(t *testing.T) {
	store := &fakeStore{linkErr: ErrAlreadyResolved}
	w := NewWorkbench(store)

	err := w.LinkExisting(context.Background(), "+15550000001", "contact-7")
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("error = %v, want ErrAlreadyResolved", err)
	}
}
