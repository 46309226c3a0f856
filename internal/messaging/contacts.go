package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	gocache "github.com/patrickmn/go-cache"
)

var ErrContactNotFound = errors.New("messaging: contact not found")

// PhoneResolver looks up the phone number drips for a contact are sent to.
type PhoneResolver interface {
	ContactPhone(ctx context.Context, orgID, contactID string) (string, error)
}

// PhoneResolverFunc adapts a function to PhoneResolver.
type PhoneResolverFunc func(ctx context.Context, orgID, contactID string) (string, error)

func (f PhoneResolverFunc) ContactPhone(ctx context.Context, orgID, contactID string) (string, error) {
	return f(ctx, orgID, contactID)
}

// ContactIDIsPhone treats the contact id itself as the phone number. Used when
// contacts are keyed by their number.
var ContactIDIsPhone = PhoneResolverFunc(func(_ context.Context, _, contactID string) (string, error) {
	if NormalizeE164(contactID) == "" {
		return "", ErrContactNotFound
	}
	return contactID, nil
})

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ContactDirectory resolves phone numbers from the contacts table and keeps
// them in a short-lived cache.
type ContactDirectory struct {
	db    rowQuerier
	cache *gocache.Cache
}

func NewContactDirectory(db rowQuerier, ttl time.Duration) *ContactDirectory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ContactDirectory{db: db, cache: gocache.New(ttl, 2*ttl)}
}

func (d *ContactDirectory) ContactPhone(ctx context.Context, orgID, contactID string) (string, error) {
	key := orgID + ":" + contactID
	if v, ok := d.cache.Get(key); ok {
		return v.(string), nil
	}
	var phone string
	err := d.db.QueryRow(ctx, `SELECT phone FROM contacts WHERE org_id = $1 AND id = $2`, orgID, contactID).Scan(&phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrContactNotFound
	}
	if err != nil {
		return "", fmt.Errorf("messaging: lookup contact: %w", err)
	}
	d.cache.SetDefault(key, phone)
	return phone, nil
}
