// Package testutil provides shared fixtures for order sync tests: fake
// orders, ingest requests and an in-process CRM API.
package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	appsync "github.com/ordersync/backend/internal/application/ordersync"
	"github.com/ordersync/backend/internal/domain/ordersync"
)

// NewOrder returns a fake order for the branch, reproducible for a seed
func NewOrder(seed uint64, orderID, branchCode string) *ordersync.Order {
	faker := gofakeit.New(seed)
	return &ordersync.Order{
		ID:         uuid.New(),
		OrderID:    orderID,
		BranchCode: branchCode,
		Client: ordersync.ClientInfo{
			FirstName: faker.FirstName(),
			LastName:  faker.LastName(),
			Email:     faker.Email(),
			Phone:     "+9725" + faker.Numerify("########"),
		},
		Product: ordersync.ProductInfo{
			Country:        faker.RandomString([]string{"IN", "VN", "TR", "EG"}),
			Intent:         faker.RandomString([]string{"tourist", "business"}),
			Entries:        faker.RandomString([]string{"single", "multiple"}),
			Validity:       "month",
			ProcessingDays: faker.Number(1, 10),
			Quantity:       faker.Number(1, 4),
		},
		Amount:           decimal.NewFromFloat(faker.Price(20, 300)).Round(2),
		Currency:         "usd",
		AlertsEnabled:    true,
		ProcessingStatus: ordersync.ProcessingStatusNew,
	}
}

// IngestRequest returns the ingest form of NewOrder
func IngestRequest(seed uint64, orderID, branchCode string) appsync.IngestOrderRequest {
	o := NewOrder(seed, orderID, branchCode)
	return appsync.IngestOrderRequest{
		OrderID:        o.OrderID,
		BranchCode:     o.BranchCode,
		FirstName:      o.Client.FirstName,
		LastName:       o.Client.LastName,
		Email:          o.Client.Email,
		Phone:          o.Client.Phone,
		Country:        o.Product.Country,
		Intent:         o.Product.Intent,
		Entries:        o.Product.Entries,
		Validity:       o.Product.Validity,
		ProcessingDays: o.Product.ProcessingDays,
		Quantity:       o.Product.Quantity,
		Amount:         o.Amount,
		Currency:       o.Currency,
		AlertsEnabled:  o.AlertsEnabled,
	}
}

// FakeCRM is an in-process contact and messaging API. Contacts live in
// memory keyed by id; every identity of a created contact resolves to it.
type FakeCRM struct {
	Server *httptest.Server

	mu        sync.Mutex
	contacts  map[string]ordersync.Contact
	byKey     map[string]string
	messages  []ordersync.SendRequest
	available bool
	failSend  int
}

// NewFakeCRM starts a FakeCRM that reports the channel as available. The
// server is closed on test cleanup.
func NewFakeCRM(t *testing.T) *FakeCRM {
	t.Helper()
	f := &FakeCRM{
		contacts:  make(map[string]ordersync.Contact),
		byKey:     make(map[string]string),
		available: true,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /contacts", f.findContacts)
	mux.HandleFunc("POST /contacts", f.createContact)
	mux.HandleFunc("PATCH /contacts/{id}/custom_fields", f.updateFields)
	mux.HandleFunc("GET /channels/availability", f.availability)
	mux.HandleFunc("POST /messages", f.send)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// URL is the base URL to configure the CRM client with
func (f *FakeCRM) URL() string { return f.Server.URL }

// SetChannelAvailable controls the channel availability answer
func (f *FakeCRM) SetChannelAvailable(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available = v
}

// FailNextSends makes the next n message sends answer 503
func (f *FakeCRM) FailNextSends(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSend = n
}

// Messages returns the accepted message requests
func (f *FakeCRM) Messages() []ordersync.SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ordersync.SendRequest(nil), f.messages...)
}

// Contacts returns the stored contacts
func (f *FakeCRM) Contacts() []ordersync.Contact {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ordersync.Contact, 0, len(f.contacts))
	for _, c := range f.contacts {
		out = append(out, c)
	}
	return out
}

func (f *FakeCRM) findContacts(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data := []ordersync.Contact{}
	if id, ok := f.byKey[strings.ToLower(r.URL.Query().Get("identity"))]; ok {
		data = append(data, f.contacts[id])
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (f *FakeCRM) createContact(w http.ResponseWriter, r *http.Request) {
	var p ordersync.ContactPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": err.Error()})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c := ordersync.Contact{
		ID:           "c-" + uuid.NewString()[:8],
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		Email:        p.Email,
		Phone:        p.Phone,
		CustomFields: p.CustomFields,
	}
	f.contacts[c.ID] = c
	for _, key := range []string{p.Email, p.Phone} {
		if key != "" {
			f.byKey[strings.ToLower(key)] = c.ID
		}
	}
	writeJSON(w, http.StatusCreated, c)
}

func (f *FakeCRM) updateFields(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CustomFields map[string]string `json:"custom_fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": err.Error()})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contacts[r.PathValue("id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "no contact"})
		return
	}
	if c.CustomFields == nil {
		c.CustomFields = make(map[string]string)
	}
	for k, v := range body.CustomFields {
		c.CustomFields[k] = v
	}
	f.contacts[c.ID] = c
	writeJSON(w, http.StatusOK, c)
}

func (f *FakeCRM) availability(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]bool{"available": f.available})
}

func (f *FakeCRM) send(w http.ResponseWriter, r *http.Request) {
	var req ordersync.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": err.Error()})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend > 0 {
		f.failSend--
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "upstream down"})
		return
	}
	f.messages = append(f.messages, req)
	writeJSON(w, http.StatusAccepted, map[string]string{"message_id": "m-" + uuid.NewString()[:8]})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ContextWithTimeout creates a context with a timeout for tests.
func ContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}
