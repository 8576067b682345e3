package ordersync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/ordersync/backend/internal/domain/ordersync"
)

// ---------------------------------------------------------------------------
// Test Fixtures
// ---------------------------------------------------------------------------

func newIsraeliOrder(orderID string) *ordersync.Order {
	return &ordersync.Order{
		ID:         uuid.New(),
		OrderID:    orderID,
		BranchCode: "il",
		Client: ordersync.ClientInfo{
			FirstName: "Noa",
			LastName:  "Levi",
			Email:     "Noa.Levi@Example.com",
			Phone:     "+972 50-123-4567",
		},
		Product: ordersync.ProductInfo{
			Country:  "IN",
			Intent:   "tourist",
			Entries:  "single",
			Validity: "month",
			Quantity: 2,
		},
		Amount:           decimal.RequireFromString("89.5"),
		Currency:         "usd",
		Urgency:          "urgent",
		AlertsEnabled:    true,
		ArrivalDate:      "2026-04-12",
		ProcessingStatus: ordersync.ProcessingStatusNew,
	}
}

// ---------------------------------------------------------------------------
// In-memory repositories
// ---------------------------------------------------------------------------

type fakeOrders struct {
	mu     sync.Mutex
	orders map[string]*ordersync.Order
	err    error
}

func newFakeOrders(orders ...*ordersync.Order) *fakeOrders {
	f := &fakeOrders{orders: make(map[string]*ordersync.Order)}
	for _, o := range orders {
		f.orders[o.OrderID] = o
	}
	return f
}

func (f *fakeOrders) FindByOrderID(ctx context.Context, orderID string) (*ordersync.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	o, ok := f.orders[orderID]
	if !ok {
		return nil, ordersync.ErrOrderNotFound
	}
	clone := *o
	return &clone, nil
}

func (f *fakeOrders) Save(ctx context.Context, order *ordersync.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *order
	f.orders[order.OrderID] = &clone
	return nil
}

func (f *fakeOrders) LinkSyncRecord(ctx context.Context, orderID string, syncRecordID uuid.UUID, status ordersync.ProcessingStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return ordersync.ErrOrderNotFound
	}
	o.SyncRecordID = &syncRecordID
	o.ProcessingStatus = status
	return nil
}

func (f *fakeOrders) MarkNotificationSent(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orders[orderID]; ok {
		o.NotificationSent = true
	}
	return nil
}

func (f *fakeOrders) FindPendingSync(ctx context.Context, filter ordersync.PendingOrderFilter) ([]ordersync.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	ids := make([]string, 0, len(f.orders))
	for id, o := range f.orders {
		if o.ProcessingStatus == ordersync.ProcessingStatusSynced {
			continue
		}
		if filter.UpdatedAfter != nil && !o.UpdatedAt.After(*filter.UpdatedAfter) {
			continue
		}
		if id <= filter.AfterOrderID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if filter.Limit > 0 && len(ids) > filter.Limit {
		ids = ids[:filter.Limit]
	}
	result := make([]ordersync.Order, 0, len(ids))
	for _, id := range ids {
		result = append(result, *f.orders[id])
	}
	return result, nil
}

func (f *fakeOrders) get(orderID string) ordersync.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.orders[orderID]
}

type fakeSyncRecords struct {
	mu        sync.Mutex
	records   map[string]*ordersync.SyncRecord
	upsertErr error
}

func newFakeSyncRecords() *fakeSyncRecords {
	return &fakeSyncRecords{records: make(map[string]*ordersync.SyncRecord)}
}

func (f *fakeSyncRecords) UpsertByOrderID(ctx context.Context, record *ordersync.SyncRecord) (*ordersync.SyncRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	if existing, ok := f.records[record.OrderID]; ok {
		clone := *existing
		return &clone, nil
	}
	clone := *record
	f.records[record.OrderID] = &clone
	out := clone
	return &out, nil
}

func (f *fakeSyncRecords) FindByOrderID(ctx context.Context, orderID string) (*ordersync.SyncRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[orderID]
	if !ok {
		return nil, ordersync.ErrSyncRecordNotFound
	}
	clone := *r
	return &clone, nil
}

func (f *fakeSyncRecords) IncrementAttempt(ctx context.Context, orderID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[orderID]
	if !ok {
		return ordersync.ErrSyncRecordNotFound
	}
	r.AttemptCount++
	r.LastAttemptAt = &at
	return nil
}

func (f *fakeSyncRecords) RecordError(ctx context.Context, orderID string, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[orderID]
	if !ok {
		return ordersync.ErrSyncRecordNotFound
	}
	r.ErrorCount++
	r.LastError = msg
	return nil
}

func (f *fakeSyncRecords) SaveSyncState(ctx context.Context, record *ordersync.SyncRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[record.OrderID]
	if !ok {
		return ordersync.ErrSyncRecordNotFound
	}
	r.ContactID = record.ContactID
	r.Synced = record.Synced
	r.LastError = record.LastError
	r.Localized = record.Localized
	r.AlertsEnabled = record.AlertsEnabled
	return nil
}

func (f *fakeSyncRecords) MarkNotificationSent(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.records[orderID]; ok {
		r.NotificationSent = true
	}
	return nil
}

func (f *fakeSyncRecords) get(orderID string) *ordersync.SyncRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[orderID]
	if !ok {
		return nil
	}
	clone := *r
	return &clone
}

type fakeNotifications struct {
	mu      sync.Mutex
	records map[string]*ordersync.NotificationRecord
	findErr error
}

func newFakeNotifications() *fakeNotifications {
	return &fakeNotifications{records: make(map[string]*ordersync.NotificationRecord)}
}

func notificationKey(orderID, template string) string {
	return orderID + "|" + template
}

func (f *fakeNotifications) FindByOrderAndTemplate(ctx context.Context, orderID, template string) (*ordersync.NotificationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	r, ok := f.records[notificationKey(orderID, template)]
	if !ok {
		return nil, ordersync.ErrNotificationNotFound
	}
	clone := *r
	return &clone, nil
}

func (f *fakeNotifications) CreateQueued(ctx context.Context, record *ordersync.NotificationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := notificationKey(record.OrderID, record.Template)
	if _, ok := f.records[key]; ok {
		return ordersync.ErrDuplicateNotification
	}
	clone := *record
	f.records[key] = &clone
	return nil
}

func (f *fakeNotifications) ReclaimStale(ctx context.Context, orderID, template string, cutoff time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[notificationKey(orderID, template)]
	if !ok || r.Status != ordersync.NotificationStatusPending || !r.UpdatedAt.Before(cutoff) {
		return false, nil
	}
	r.Status = ordersync.NotificationStatusQueued
	r.UpdatedAt = cutoff.Add(ordersync.StalePendingThreshold)
	return true, nil
}

func (f *fakeNotifications) ClaimPending(ctx context.Context, orderID, template, placeholderID string, at, staleCutoff time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := notificationKey(orderID, template)
	r, ok := f.records[key]
	if !ok {
		f.records[key] = &ordersync.NotificationRecord{
			ID:        uuid.New(),
			OrderID:   orderID,
			Template:  template,
			Status:    ordersync.NotificationStatusPending,
			MessageID: placeholderID,
			CreatedAt: at,
			UpdatedAt: at,
		}
		return true, nil
	}
	claimable := r.Status == ordersync.NotificationStatusQueued ||
		(r.Status == ordersync.NotificationStatusPending && r.UpdatedAt.Before(staleCutoff))
	if !claimable {
		return false, nil
	}
	r.Status = ordersync.NotificationStatusPending
	r.MessageID = placeholderID
	r.UpdatedAt = at
	return true, nil
}

func (f *fakeNotifications) MarkSent(ctx context.Context, orderID, template, placeholderID, messageID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[notificationKey(orderID, template)]
	switch {
	case !ok:
		return ordersync.ErrNotificationNotFound
	case r.IsSent():
		return ordersync.ErrNotificationAlreadySent
	case r.Status != ordersync.NotificationStatusPending || r.MessageID != placeholderID:
		return ordersync.ErrNotificationInFlight
	}
	r.Status = ordersync.NotificationStatusSent
	r.MessageID = messageID
	r.SentAt = &at
	r.UpdatedAt = at
	return nil
}

func (f *fakeNotifications) DeletePending(ctx context.Context, orderID, template, placeholderID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := notificationKey(orderID, template)
	r, ok := f.records[key]
	if !ok || r.Status != ordersync.NotificationStatusPending || r.MessageID != placeholderID {
		return false, nil
	}
	delete(f.records, key)
	return true, nil
}

func (f *fakeNotifications) put(r *ordersync.NotificationRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *r
	f.records[notificationKey(r.OrderID, r.Template)] = &clone
}

func (f *fakeNotifications) get(orderID, template string) *ordersync.NotificationRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[notificationKey(orderID, template)]
	if !ok {
		return nil
	}
	clone := *r
	return &clone
}

func (f *fakeNotifications) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// ---------------------------------------------------------------------------
// External systems
// ---------------------------------------------------------------------------

// fakeCRM is a stateful contact API keyed by phone and email
type fakeCRM struct {
	mu               sync.Mutex
	contacts         map[string]*ordersync.Contact
	nextID           int
	creates          int
	updates          int
	lookups          int
	channelAvailable bool
	createErr        error
	updateErr        error
	findErr          error
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{contacts: make(map[string]*ordersync.Contact), channelAvailable: true}
}

func (f *fakeCRM) FindByIdentity(ctx context.Context, identity string) (*ordersync.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.findErr != nil {
		return nil, f.findErr
	}
	c, ok := f.contacts[identity]
	if !ok {
		return nil, ordersync.ErrContactNotFound
	}
	clone := *c
	return &clone, nil
}

func (f *fakeCRM) Create(ctx context.Context, payload ordersync.ContactPayload) (*ordersync.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.creates++
	f.nextID++
	c := &ordersync.Contact{
		ID:           fmt.Sprintf("contact-%d", f.nextID),
		FirstName:    payload.FirstName,
		LastName:     payload.LastName,
		Email:        payload.Email,
		Phone:        payload.Phone,
		Language:     payload.Language,
		CustomFields: payload.CustomFields,
	}
	if c.Phone != "" {
		f.contacts[c.Phone] = c
	}
	if c.Email != "" {
		f.contacts[c.Email] = c
	}
	clone := *c
	return &clone, nil
}

func (f *fakeCRM) UpdateCustomFields(ctx context.Context, contactID string, fields map[string]string) (*ordersync.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updates++
	for _, c := range f.contacts {
		if c.ID == contactID {
			c.CustomFields = fields
			clone := *c
			return &clone, nil
		}
	}
	return nil, ordersync.ErrContactNotFound
}

func (f *fakeCRM) CheckChannelAvailability(ctx context.Context, identity string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channelAvailable, nil
}

func (f *fakeCRM) seed(c *ordersync.Contact, keys ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		f.contacts[k] = c
	}
}

func (f *fakeCRM) counts() (creates, updates int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.updates
}

// MockContactAPI is a mock implementation of ContactAPI
type MockContactAPI struct {
	mock.Mock
}

func (m *MockContactAPI) FindByIdentity(ctx context.Context, identity string) (*ordersync.Contact, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ordersync.Contact), args.Error(1)
}

func (m *MockContactAPI) Create(ctx context.Context, payload ordersync.ContactPayload) (*ordersync.Contact, error) {
	args := m.Called(ctx, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ordersync.Contact), args.Error(1)
}

func (m *MockContactAPI) UpdateCustomFields(ctx context.Context, contactID string, fields map[string]string) (*ordersync.Contact, error) {
	args := m.Called(ctx, contactID, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ordersync.Contact), args.Error(1)
}

func (m *MockContactAPI) CheckChannelAvailability(ctx context.Context, identity string) (bool, error) {
	args := m.Called(ctx, identity)
	return args.Bool(0), args.Error(1)
}

// MockMessageSender is a mock implementation of MessageSender
type MockMessageSender struct {
	mock.Mock
}

func (m *MockMessageSender) Send(ctx context.Context, req ordersync.SendRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// ---------------------------------------------------------------------------
// Queue and metrics
// ---------------------------------------------------------------------------

type enqueuedJob struct {
	Queue   string
	Type    string
	Payload any
	Opts    ordersync.EnqueueOptions
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []enqueuedJob
	err  error
}

func (q *recordingQueue) Enqueue(ctx context.Context, queueName, jobType string, payload any, opts ordersync.EnqueueOptions) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.jobs = append(q.jobs, enqueuedJob{Queue: queueName, Type: jobType, Payload: payload, Opts: opts})
	return fmt.Sprintf("job-%d", len(q.jobs)), nil
}

func (q *recordingQueue) byQueue(name string) []enqueuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []enqueuedJob
	for _, j := range q.jobs {
		if j.Queue == name {
			out = append(out, j)
		}
	}
	return out
}

type recordingMetrics struct {
	mu         sync.Mutex
	attempts   int
	results    []ordersync.SyncStatus
	errors     []ordersync.ErrorCategory
	dispatches []string
	sends      []string
}

func (m *recordingMetrics) RecordSyncAttempt(ctx context.Context, branch string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
}

func (m *recordingMetrics) RecordSyncResult(ctx context.Context, status ordersync.SyncStatus, action ordersync.SyncAction, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, status)
}

func (m *recordingMetrics) RecordSyncError(ctx context.Context, category ordersync.ErrorCategory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, category)
}

func (m *recordingMetrics) RecordNotificationDispatch(ctx context.Context, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatches = append(m.dispatches, outcome)
}

func (m *recordingMetrics) RecordNotificationSend(ctx context.Context, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, outcome)
}

// ---------------------------------------------------------------------------
// Wiring
// ---------------------------------------------------------------------------

type harness struct {
	orders        *fakeOrders
	syncRecords   *fakeSyncRecords
	notifications *fakeNotifications
	crm           *fakeCRM
	queue         *recordingQueue
	metrics       *recordingMetrics
	dispatcher    *NotificationDispatcher
	orchestrator  *SyncOrchestrator
}

func newHarness(orders ...*ordersync.Order) *harness {
	h := &harness{
		orders:        newFakeOrders(orders...),
		syncRecords:   newFakeSyncRecords(),
		notifications: newFakeNotifications(),
		crm:           newFakeCRM(),
		queue:         &recordingQueue{},
		metrics:       &recordingMetrics{},
	}
	h.dispatcher = NewNotificationDispatcher(h.notifications, h.queue, ordersync.BranchFilter{},
		DefaultDispatcherConfig(), h.metrics, nil)
	h.orchestrator = NewSyncOrchestrator(OrchestratorConfig{
		Orders:      h.orders,
		SyncRecords: h.syncRecords,
		Contacts:    h.crm,
		Dispatcher:  h.dispatcher,
		Metrics:     h.metrics,
	})
	return h
}
