package ordersync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ordersync/backend/internal/domain/ordersync"
	"go.uber.org/zap"
)

// ContactIdentity holds the keys a contact can be found by
type ContactIdentity struct {
	Phone string
	Email string
}

// IdentityFromOrder extracts the lookup keys of an order
func IdentityFromOrder(order *ordersync.Order) ContactIdentity {
	return ContactIdentity{
		Phone: ordersync.NormalizePhone(order.Client.Phone),
		Email: strings.ToLower(strings.TrimSpace(order.Client.Email)),
	}
}

// Primary returns the preferred identity key
func (i ContactIdentity) Primary() string {
	if i.Phone != "" {
		return i.Phone
	}
	return i.Email
}

// ContactSyncAdapter upserts contacts in the external system and normalizes
// partial failures into a SyncAttemptResult
type ContactSyncAdapter struct {
	api    ordersync.ContactAPI
	logger *zap.Logger
}

// NewContactSyncAdapter creates a new ContactSyncAdapter
func NewContactSyncAdapter(api ordersync.ContactAPI, logger *zap.Logger) *ContactSyncAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContactSyncAdapter{api: api, logger: logger}
}

// Upsert finds the contact for identity and updates its custom fields, or
// creates it. Mutation failures are recovered by re-fetching; an error is
// returned only when both the mutation and the re-fetch fail.
func (a *ContactSyncAdapter) Upsert(ctx context.Context, identity ContactIdentity, payload ordersync.ContactPayload) (ordersync.SyncAttemptResult, error) {
	existing, err := a.find(ctx, identity)
	if err != nil {
		// A failed lookup is treated like a failed mutation: try to recover.
		return a.recover(ctx, identity, err)
	}

	if existing != nil {
		a.checkCoreFields(existing, payload)
		updated, err := a.api.UpdateCustomFields(ctx, existing.ID, payload.CustomFields)
		if err != nil {
			return a.recover(ctx, identity, err)
		}
		if updated == nil || updated.ID == "" {
			updated = existing
		}
		return ordersync.SyncAttemptResult{Contact: updated}, nil
	}

	created, err := a.api.Create(ctx, payload)
	if err != nil {
		return a.recover(ctx, identity, err)
	}
	return ordersync.SyncAttemptResult{Contact: created, IsNewContact: true}, nil
}

// recover re-fetches the contact after a failure. A duplicate-write race
// leaves a usable contact behind, which is returned with the original error.
func (a *ContactSyncAdapter) recover(ctx context.Context, identity ContactIdentity, cause error) (ordersync.SyncAttemptResult, error) {
	contact, err := a.find(ctx, identity)
	if err != nil {
		a.logger.Error("contact upsert failed and re-fetch failed",
			zap.String("identity", identity.Primary()),
			zap.Error(cause),
			zap.NamedError("refetch_error", err),
		)
		return ordersync.SyncAttemptResult{Error: cause.Error()},
			fmt.Errorf("%w: %v (re-fetch: %v)", ordersync.ErrContactUnrecoverable, cause, err)
	}

	if contact != nil {
		a.logger.Warn("contact upsert failed, continuing with existing contact",
			zap.String("identity", identity.Primary()),
			zap.String("contact_id", contact.ID),
			zap.Error(cause),
		)
	}
	return ordersync.SyncAttemptResult{Contact: contact, Error: cause.Error()}, nil
}

// find looks the contact up by phone, the phone variant, then email.
// It returns (nil, nil) when no key matches.
func (a *ContactSyncAdapter) find(ctx context.Context, identity ContactIdentity) (*ordersync.Contact, error) {
	keys := make([]string, 0, 3)
	if identity.Phone != "" {
		keys = append(keys, identity.Phone)
		if variant := IsraeliPhoneVariant(identity.Phone); variant != "" {
			keys = append(keys, variant)
		}
	}
	if identity.Email != "" {
		keys = append(keys, identity.Email)
	}

	for i, key := range keys {
		contact, err := a.api.FindByIdentity(ctx, key)
		if errors.Is(err, ordersync.ErrContactNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if i > 0 && key != identity.Email {
			a.logger.Info("contact found by phone variant",
				zap.String("phone", identity.Phone),
				zap.String("variant", key),
			)
		}
		return contact, nil
	}
	return nil, nil
}

// checkCoreFields logs when the stored contact disagrees with the order on
// fields the API does not let us update
func (a *ContactSyncAdapter) checkCoreFields(existing *ordersync.Contact, payload ordersync.ContactPayload) {
	var mismatched []string
	if payload.FirstName != "" && !strings.EqualFold(existing.FirstName, payload.FirstName) {
		mismatched = append(mismatched, "first_name")
	}
	if payload.LastName != "" && !strings.EqualFold(existing.LastName, payload.LastName) {
		mismatched = append(mismatched, "last_name")
	}
	if payload.Email != "" && !strings.EqualFold(existing.Email, payload.Email) {
		mismatched = append(mismatched, "email")
	}
	if payload.Phone != "" && ordersync.NormalizePhone(existing.Phone) != payload.Phone {
		mismatched = append(mismatched, "phone")
	}
	if len(mismatched) > 0 {
		a.logger.Warn("existing contact core fields differ from order, only custom fields will be updated",
			zap.String("contact_id", existing.ID),
			zap.Strings("fields", mismatched),
		)
	}
}

// IsraeliPhoneVariant returns the alternate spelling of an Israeli number:
// 9720XXX becomes 972XXX and 972XXX becomes 9720XXX. It returns "" for
// other numbers.
func IsraeliPhoneVariant(phone string) string {
	if !strings.HasPrefix(phone, "972") || len(phone) < 4 {
		return ""
	}
	if phone[3] == '0' {
		return phone[:3] + phone[4:]
	}
	return phone[:3] + "0" + phone[3:]
}
