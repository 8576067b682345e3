package ordersync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNotificationRecord_Staleness(t *testing.T) {
	now := time.Now()

	t.Run("pending younger than threshold is fresh", func(t *testing.T) {
		rec := &NotificationRecord{Status: NotificationStatusPending, UpdatedAt: now.Add(-119 * time.Second)}
		assert.True(t, rec.IsFreshPending(now))
		assert.False(t, rec.IsStalePending(now))
		assert.True(t, rec.BlocksDispatch(now))
	})

	t.Run("pending older than threshold is stale", func(t *testing.T) {
		rec := &NotificationRecord{Status: NotificationStatusPending, UpdatedAt: now.Add(-121 * time.Second)}
		assert.True(t, rec.IsStalePending(now))
		assert.False(t, rec.IsFreshPending(now))
		assert.False(t, rec.BlocksDispatch(now))
	})

	t.Run("sent always blocks", func(t *testing.T) {
		rec := &NotificationRecord{Status: NotificationStatusSent, UpdatedAt: now.Add(-24 * time.Hour)}
		assert.True(t, rec.IsSent())
		assert.True(t, rec.BlocksDispatch(now))
		assert.False(t, rec.IsStalePending(now))
	})

	t.Run("queued blocks dispatch", func(t *testing.T) {
		rec := NewQueuedNotification("A1", TemplateOrderConfirmation)
		assert.True(t, rec.BlocksDispatch(now))
		assert.True(t, IsPlaceholderMessageID(rec.MessageID))
	})
}

func TestNotificationStatus_IsValid(t *testing.T) {
	assert.True(t, NotificationStatusQueued.IsValid())
	assert.True(t, NotificationStatusPending.IsValid())
	assert.True(t, NotificationStatusSent.IsValid())
	assert.False(t, NotificationStatus("failed").IsValid())
}

func TestBranchFilter(t *testing.T) {
	f := NewBranchFilter()
	assert.True(t, f.Allows("il"))
	assert.True(t, f.Allows(" IL "))
	assert.False(t, f.Allows("se"))
	assert.False(t, f.Allows(""))

	multi := NewBranchFilter("il", "de")
	assert.True(t, multi.Allows("de"))
}

func TestOrder_Identity(t *testing.T) {
	o := &Order{OrderID: "A1", Client: ClientInfo{Phone: "+972 (50) 123-4567", Email: "a@b.c"}}
	assert.Equal(t, "972501234567", o.Identity())

	o.Client.Phone = ""
	o.Client.Email = " Someone@Example.COM "
	assert.Equal(t, "someone@example.com", o.Identity())
}

func TestSyncRecord_Lifecycle(t *testing.T) {
	rec := NewSyncRecord(&Order{OrderID: "A1", AlertsEnabled: true})
	assert.False(t, rec.HasContact())
	assert.True(t, rec.AlertsEnabled)

	at := time.Now()
	rec.BeginAttempt(at)
	assert.Equal(t, 1, rec.AttemptCount)
	assert.Equal(t, at, *rec.LastAttemptAt)

	rec.RecordError("timeout")
	assert.Equal(t, 1, rec.ErrorCount)
	assert.Equal(t, "timeout", rec.LastError)

	rec.MarkSynced("c-1", LocalizedStrings{CountryName: "India"}, "")
	assert.True(t, rec.IsComplete())
	assert.Empty(t, rec.LastError)
}
