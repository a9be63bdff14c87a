package courier_api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/CourierHub/internal/models"
	"github.com/BearBump/CourierHub/internal/services/dashboard"
	"github.com/BearBump/CourierHub/internal/services/lifecycle"
	"github.com/BearBump/CourierHub/internal/services/tracker"
	"github.com/BearBump/CourierHub/internal/storage/pgorders"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	orders   map[uint64]*models.Order
	couriers map[uint64]*models.Courier
	timeline map[uint64][]*models.TimelineEntry
	located  []models.LocationSample
}

func newFakeStore() *fakeStore {
	cid := uint64(1)
	return &fakeStore{
		orders: map[uint64]*models.Order{
			10: {ID: 10, OrderNumber: "FD-10", Status: models.OrderStatusReady, CreatedAt: time.Now().UTC()},
			11: {
				ID: 11, OrderNumber: "FD-11", Status: models.OrderStatusDelivered,
				DeliveryStatus: models.DeliveryStatusDelivered, CourierID: &cid,
				Pricing:   models.Pricing{DeliveryFee: 40},
				CreatedAt: time.Now().UTC(),
			},
		},
		couriers: map[uint64]*models.Courier{1: {ID: 1, Name: "Ravi"}},
		timeline: map[uint64][]*models.TimelineEntry{},
	}
}

func (f *fakeStore) GetOrder(ctx context.Context, orderID uint64) (*models.Order, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStore) AcceptOrder(ctx context.Context, orderID, courierID uint64, at time.Time) error {
	o, ok := f.orders[orderID]
	if !ok {
		return models.ErrNotFound
	}
	if o.CourierID != nil {
		return models.ErrAlreadyAssigned
	}
	if !models.PickupEligible(o.Status) {
		return models.ErrNotAvailable
	}
	o.CourierID = &courierID
	o.DeliveryStatus = models.DeliveryStatusAssigned
	return nil
}

func (f *fakeStore) CountActiveByCourier(ctx context.Context, courierID uint64) (int, error) {
	n := 0
	for _, o := range f.orders {
		if o.CourierID != nil && *o.CourierID == courierID &&
			o.DeliveryStatus != "" &&
			o.DeliveryStatus != models.DeliveryStatusDelivered &&
			o.DeliveryStatus != models.DeliveryStatusCancelled {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ApplyDeliveryUpdate(ctx context.Context, upd pgorders.DeliveryUpdate) error {
	o, ok := f.orders[upd.OrderID]
	if !ok {
		return models.ErrNotFound
	}
	if o.CourierID == nil || *o.CourierID != upd.CourierID || o.DeliveryStatus != upd.FromStatus {
		return models.ErrPreconditionFailed
	}
	o.DeliveryStatus = upd.ToStatus
	o.Status = upd.MirrorStatus
	return nil
}

func (f *fakeStore) ListTimeline(ctx context.Context, orderID uint64, limit, offset int) ([]*models.TimelineEntry, error) {
	return f.timeline[orderID], nil
}

func (f *fakeStore) ListOrdersSnapshot(ctx context.Context) ([]*models.Order, error) {
	out := make([]*models.Order, 0, len(f.orders))
	for _, o := range f.orders {
		cp := *o
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) ListCompletedByCourier(ctx context.Context, courierID uint64, limit, offset int) ([]*models.Order, error) {
	if offset > 0 {
		return nil, nil
	}
	var out []*models.Order
	for _, o := range f.orders {
		if o.CourierID != nil && *o.CourierID == courierID && o.Terminal() {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) GetCourier(ctx context.Context, courierID uint64) (*models.Courier, error) {
	c, ok := f.couriers[courierID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) SetAvailability(ctx context.Context, courierID uint64, available bool) error {
	c, ok := f.couriers[courierID]
	if !ok {
		return models.ErrNotFound
	}
	c.Available = available
	return nil
}

func (f *fakeStore) UpdateCourierLocation(ctx context.Context, courierID uint64, sample models.LocationSample) error {
	f.located = append(f.located, sample)
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeStore) {
	t.Helper()
	st := newFakeStore()
	lc := lifecycle.New(st, st, nil, "order.changed")
	db := dashboard.New(st, nil, 0)
	sink := tracker.SinkFunc(st.UpdateCourierLocation)
	api := New(lc, db, st, st, sink, 0)

	r := chi.NewRouter()
	api.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, st
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestGetOrder(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v1/orders/10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, `"FD-10"`, string(body["order_number"]))

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/orders/404", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/orders/abc", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAccept_Conflicts(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/orders/10/accept", map[string]any{"courierId": 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Same courier again: active-order guard, still 409.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/orders/10/accept", map[string]any{"courierId": 1})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/orders/10/accept", map[string]any{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdvance_Statuses(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/orders/10/accept", map[string]any{"courierId": 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/orders/10/advance",
		map[string]any{"courierId": 1, "to": "picked_up"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, `"picked_up"`, string(body["delivery_status"]))

	// Skipping straight to delivered is a 422.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/orders/10/advance",
		map[string]any{"courierId": 1, "to": "delivered"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// Unknown target status never reaches the service.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/orders/10/advance",
		map[string]any{"courierId": 1, "to": "teleported"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFeed_Views(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v1/couriers/1/feed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var available, completed []models.Order
	require.NoError(t, json.Unmarshal(body["available"], &available))
	require.NoError(t, json.Unmarshal(body["completed"], &completed))
	require.Len(t, available, 1)
	require.Equal(t, uint64(10), available[0].ID)
	require.Len(t, completed, 1)
	require.Equal(t, uint64(11), completed[0].ID)
}

func TestSummary(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v1/couriers/1/summary", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, `1`, string(body["delivered"]))
	require.Equal(t, `40`, string(body["earningsTotal"]))

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/couriers/99/summary", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAvailabilityAndLocation(t *testing.T) {
	srv, st := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPut, srv.URL+"/v1/couriers/1/availability", map[string]any{"available": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, st.couriers[1].Available)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/couriers/1/location",
		map[string]any{"lat": 12.97, "lng": 77.59})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, st.located, 1)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/couriers/1/location",
		map[string]any{"lat": 120.0, "lng": 77.59})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
