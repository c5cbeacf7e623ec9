// Package contacts implements the contact-resolution workbench: the queue of
// phone numbers that imported communications could not be attributed to, and
// the operations that resolve them by creating or linking a contact and
// retroactively retagging history.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrMappingNotFound is returned when resolving a phone with no mapping row.
var ErrMappingNotFound = errors.New("no unresolved mapping for phone")

// ErrAlreadyResolved is returned when resolving a phone whose mapping is
// already linked to a contact. Resolution is idempotent: this is a no-op
// error, nothing is mutated.
var ErrAlreadyResolved = errors.New("phone is already linked to a contact")

// ErrContactNotFound is returned when linking to a contact id that does not
// exist.
var ErrContactNotFound = errors.New("contact does not exist")

// PreviewMaxChars bounds the message preview shown in the resolution queue.
const PreviewMaxChars = 200

// PhoneMapping is one row of the phone-to-contact mapping table. A nil
// ContactID marks the phone as unresolved: exactly the resolution queue.
type PhoneMapping struct {
	PhoneNumber string  `json:"phone_number"`
	ContactName string  `json:"contact_name,omitempty"`
	ContactID   *string `json:"contact_id,omitempty"`
}

// PhonePreview aids human judgement during resolution: the most recent
// message body for the phone plus how many messages it has in total.
type PhonePreview struct {
	LastMessage  string `json:"last_message"`
	MessageCount int64  `json:"message_count"`
}

// NewContact carries the fields for contact creation during resolution.
type NewContact struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
}

// QueueEntry is one unresolved phone with its preview, ready for display.
type QueueEntry struct {
	PhoneMapping
	Preview PhonePreview `json:"preview"`
}

// MappingStore is the persistence the workbench needs. Implemented by Store
// on Postgres; faked in tests. CreateAndLink and LinkExisting must apply the
// mapping update and the history retag atomically, or leave the phone in the
// unresolved queue.
type MappingStore interface {
	Unresolved(ctx context.Context) ([]PhoneMapping, error)
	Preview(ctx context.Context, phone string) (PhonePreview, error)
	CreateAndLink(ctx context.Context, phone string, c NewContact) (string, error)
	LinkExisting(ctx context.Context, phone, contactID string) error
}

// Workbench drives contact resolution over a MappingStore.
type Workbench struct {
	store MappingStore
}

// NewWorkbench returns a workbench over the given store.
func NewWorkbench(store MappingStore) *Workbench {
	return &Workbench{store: store}
}

// Queue returns the unresolved phones with display previews, preserving the
// store's first-seen ordering. A preview failure for one phone does not hide
// the entry; the queue is best-effort display data.
func (w *Workbench) Queue(ctx context.Context) ([]QueueEntry, error) {
	mappings, err := w.store.Unresolved(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unresolved phones: %w", err)
	}

	entries := make([]QueueEntry, 0, len(mappings))
	for _, m := range mappings {
		entry := QueueEntry{PhoneMapping: m}
		if preview, err := w.store.Preview(ctx, m.PhoneNumber); err == nil {
			preview.LastMessage = truncatePreview(preview.LastMessage)
			entry.Preview = preview
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// CreateAndLink creates a new contact, links the phone's mapping to it, and
// retags every communication sharing that phone. Returns the new contact id.
func (w *Workbench) CreateAndLink(ctx context.Context, phone string, c NewContact) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", ErrMappingNotFound
	}
	if strings.TrimSpace(c.FirstName) == "" && strings.TrimSpace(c.LastName) == "" {
		return "", fmt.Errorf("contact needs at least a first or last name")
	}
	return w.store.CreateAndLink(ctx, phone, c)
}

// LinkExisting links the phone to an existing contact with the same retag
// effect, without creating anything.
func (w *Workbench) LinkExisting(ctx context.Context, phone, contactID string) error {
	if strings.TrimSpace(phone) == "" {
		return ErrMappingNotFound
	}
	if strings.TrimSpace(contactID) == "" {
		return ErrContactNotFound
	}
	return w.store.LinkExisting(ctx, phone, contactID)
}

// truncatePreview caps preview text by rune so multi-byte content is not
// split mid-character.
func truncatePreview(s string) string {
	runes := []rune(s)
	if len(runes) <= PreviewMaxChars {
		return s
	}
	return string(runes[:PreviewMaxChars])
}
