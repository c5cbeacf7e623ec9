package contacts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the interface for database operations, satisfied by both
// *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Store is the Postgres-backed MappingStore. Resolution mutations run inside
// one transaction: the mapping update and the communications retag commit
// together or the phone stays in the unresolved queue.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a store over the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// RecordUnmatched queues phones for resolution by upserting mapping rows
// with a NULL contact id. Phones already mapped (resolved or queued) are
// left untouched. Implements importer.UnmatchedSink.
func (s *Store) RecordUnmatched(ctx context.Context, phones []string) error {
	for _, phone := range phones {
		if phone == "" {
			continue
		}
		_, err := s.pool.Exec(ctx, `
			INSERT INTO phone_contact_map (phone_number, contact_name)
			VALUES ($1, '')
			ON CONFLICT (phone_number) DO NOTHING`,
			phone,
		)
		if err != nil {
			return fmt.Errorf("queue unmatched phone %s: %w", phone, err)
		}
	}
	return nil
}

// Unresolved lists mapping rows with no contact, oldest first.
func (s *Store) Unresolved(ctx context.Context) ([]PhoneMapping, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT phone_number, contact_name
		FROM phone_contact_map
		WHERE contact_id IS NULL
		ORDER BY created_at, phone_number`)
	if err != nil {
		return nil, fmt.Errorf("query unresolved mappings: %w", err)
	}
	defer rows.Close()

	var mappings []PhoneMapping
	for rows.Next() {
		var m PhoneMapping
		if err := rows.Scan(&m.PhoneNumber, &m.ContactName); err != nil {
			return nil, fmt.Errorf("scan mapping row: %w", err)
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// Preview returns the most recent message body and total message count for
// a phone.
func (s *Store) Preview(ctx context.Context, phone string) (PhonePreview, error) {
	var p PhonePreview

	err := s.pool.QueryRow(ctx, `
		SELECT content
		FROM communications
		WHERE contact_phone = $1
		ORDER BY occurred_at DESC
		LIMIT 1`,
		phone,
	).Scan(&p.LastMessage)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return PhonePreview{}, fmt.Errorf("query last message: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM communications WHERE contact_phone = $1`,
		phone,
	).Scan(&p.MessageCount)
	if err != nil {
		return PhonePreview{}, fmt.Errorf("count messages: %w", err)
	}

	return p, nil
}

// CreateAndLink creates a contact and resolves the phone to it in one
// transaction.
func (s *Store) CreateAndLink(ctx context.Context, phone string, c NewContact) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockUnresolved(ctx, tx, phone); err != nil {
		return "", err
	}

	var contactID string
	err = tx.QueryRow(ctx, `
		INSERT INTO contacts (first_name, last_name, email)
		VALUES ($1, $2, NULLIF($3, ''))
		RETURNING id`,
		c.FirstName, c.LastName, c.Email,
	).Scan(&contactID)
	if err != nil {
		return "", fmt.Errorf("create contact: %w", err)
	}

	if err := resolveAndRetag(ctx, tx, phone, contactID); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit resolution: %w", err)
	}
	return contactID, nil
}

// LinkExisting resolves the phone to an existing contact in one transaction.
func (s *Store) LinkExisting(ctx context.Context, phone, contactID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM contacts WHERE id = $1)`,
		contactID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check contact: %w", err)
	}
	if !exists {
		return ErrContactNotFound
	}

	if err := lockUnresolved(ctx, tx, phone); err != nil {
		return err
	}
	if err := resolveAndRetag(ctx, tx, phone, contactID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit resolution: %w", err)
	}
	return nil
}

// lockUnresolved locks the mapping row and verifies it is still unresolved,
// making concurrent double-resolution a clean ErrAlreadyResolved instead of
// a lost update.
func lockUnresolved(ctx context.Context, db DBTX, phone string) error {
	var contactID *string
	err := db.QueryRow(ctx, `
		SELECT contact_id
		FROM phone_contact_map
		WHERE phone_number = $1
		FOR UPDATE`,
		phone,
	).Scan(&contactID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrMappingNotFound
	}
	if err != nil {
		return fmt.Errorf("lock mapping: %w", err)
	}
	if contactID != nil {
		return ErrAlreadyResolved
	}
	return nil
}

// resolveAndRetag marks the mapping resolved and retags every communication
// sharing the phone to the contact. Runs inside the caller's transaction.
func resolveAndRetag(ctx context.Context, db DBTX, phone, contactID string) error {
	tag, err := db.Exec(ctx, `
		UPDATE phone_contact_map
		SET contact_id = $2, resolved_at = NOW()
		WHERE phone_number = $1 AND contact_id IS NULL`,
		phone, contactID,
	)
	if err != nil {
		return fmt.Errorf("update mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyResolved
	}

	if _, err := db.Exec(ctx, `
		UPDATE communications
		SET contact_id = $2
		WHERE contact_phone = $1`,
		phone, contactID,
	); err != nil {
		return fmt.Errorf("retag communications: %w", err)
	}
	return nil
}
