package pgorders

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/CourierHub/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "courierhub_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/courierhub_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func TestPGOrders_RepoFlow(t *testing.T) {
	ctx := context.Background()
	st := startPostgres(t)

	c1, err := st.CreateCourier(ctx, "Ravi", "+91-900")
	require.NoError(t, err)
	c2, err := st.CreateCourier(ctx, "Anya", "+91-901")
	require.NoError(t, err)

	order, err := st.CreateOrder(ctx, &models.Order{
		OrderNumber:  "FD-1001",
		CustomerID:   "cust-1",
		CustomerName: "Maya",
		RestaurantID: "rest-1",
		Items: []models.OrderItem{
			{Name: "Masala Dosa", UnitPrice: 120, Quantity: 2},
		},
		Pricing: models.Pricing{Subtotal: 240, Tax: 12, DeliveryFee: 30, Total: 282},
		PickupAddress: models.Address{
			Street: "MG Road 1", City: "Bengaluru",
			Location: models.Coordinate{Lat: 12.9716, Lng: 77.5946},
		},
		DropoffAddress: models.Address{
			Street: "Koramangala 5", City: "Bengaluru",
			Location: models.Coordinate{Lat: 12.9352, Lng: 77.6146},
		},
		Status: models.OrderStatusReady,
	})
	require.NoError(t, err)
	require.NotZero(t, order.ID)
	require.Nil(t, order.CourierID)

	// First accept wins, second loses with AlreadyAssigned.
	now := time.Now().UTC()
	require.NoError(t, st.AcceptOrder(ctx, order.ID, c1.ID, now))
	err = st.AcceptOrder(ctx, order.ID, c2.ID, now)
	require.ErrorIs(t, err, models.ErrAlreadyAssigned)

	got, err := st.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CourierID)
	require.Equal(t, c1.ID, *got.CourierID)
	require.Equal(t, models.DeliveryStatusAssigned, got.DeliveryStatus)

	n, err := st.CountActiveByCourier(ctx, c1.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Conditional advance: wrong expected status fails without mutating.
	err = st.ApplyDeliveryUpdate(ctx, DeliveryUpdate{
		OrderID:      order.ID,
		CourierID:    c1.ID,
		FromStatus:   models.DeliveryStatusPickedUp,
		ToStatus:     models.DeliveryStatusOnTheWay,
		MirrorStatus: models.OrderStatusOnTheWay,
		At:           now,
	})
	require.ErrorIs(t, err, models.ErrPreconditionFailed)

	loc := models.Coordinate{Lat: 12.97, Lng: 77.59}
	require.NoError(t, st.ApplyDeliveryUpdate(ctx, DeliveryUpdate{
		OrderID:      order.ID,
		CourierID:    c1.ID,
		FromStatus:   models.DeliveryStatusAssigned,
		ToStatus:     models.DeliveryStatusPickedUp,
		MirrorStatus: models.OrderStatusPickedUp,
		Location:     &loc,
		At:           now.Add(time.Minute),
	}))

	deliveredAt := now.Add(20 * time.Minute)
	require.NoError(t, st.ApplyDeliveryUpdate(ctx, DeliveryUpdate{
		OrderID:      order.ID,
		CourierID:    c1.ID,
		FromStatus:   models.DeliveryStatusPickedUp,
		ToStatus:     models.DeliveryStatusOnTheWay,
		MirrorStatus: models.OrderStatusOnTheWay,
		At:           now.Add(2 * time.Minute),
	}))
	require.NoError(t, st.ApplyDeliveryUpdate(ctx, DeliveryUpdate{
		OrderID:      order.ID,
		CourierID:    c1.ID,
		FromStatus:   models.DeliveryStatusOnTheWay,
		ToStatus:     models.DeliveryStatusDelivered,
		MirrorStatus: models.OrderStatusDelivered,
		At:           deliveredAt,
		DeliveredAt:  &deliveredAt,
	}))

	got, err = st.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusDelivered, got.Status)
	require.Equal(t, models.DeliveryStatusDelivered, got.DeliveryStatus)
	require.NotNil(t, got.DeliveredAt)

	// Timeline: append order preserved, timestamps monotonic.
	tl, err := st.ListTimeline(ctx, order.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, tl, 4)
	require.Equal(t, models.DeliveryStatusAssigned, tl[0].Status)
	require.Equal(t, models.DeliveryStatusDelivered, tl[3].Status)
	for i := 1; i < len(tl); i++ {
		require.False(t, tl[i].At.Before(tl[i-1].At))
	}
	require.NotNil(t, tl[1].Location)
	require.InDelta(t, 12.97, tl[1].Location.Lat, 1e-9)

	n, err = st.CountActiveByCourier(ctx, c1.ID)
	require.NoError(t, err)
	require.Zero(t, n)

	completed, err := st.ListCompletedByCourier(ctx, c1.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, completed, 1)

	snap, err := st.ListOrdersSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 1)
}

func TestPGOrders_AcceptNotAvailable(t *testing.T) {
	ctx := context.Background()
	st := startPostgres(t)

	c, err := st.CreateCourier(ctx, "Ravi", "")
	require.NoError(t, err)

	order, err := st.CreateOrder(ctx, &models.Order{
		OrderNumber:  "FD-2001",
		CustomerID:   "cust-2",
		RestaurantID: "rest-2",
		Status:       models.OrderStatusCancelled,
	})
	require.NoError(t, err)

	err = st.AcceptOrder(ctx, order.ID, c.ID, time.Now().UTC())
	require.ErrorIs(t, err, models.ErrNotAvailable)

	err = st.AcceptOrder(ctx, 99999, c.ID, time.Now().UTC())
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestPGOrders_CourierProfile(t *testing.T) {
	ctx := context.Background()
	st := startPostgres(t)

	c, err := st.CreateCourier(ctx, "Anya", "+91-901")
	require.NoError(t, err)
	require.False(t, c.Available)
	require.Nil(t, c.LastLocation)

	require.NoError(t, st.SetAvailability(ctx, c.ID, true))

	at := time.Now().UTC()
	require.NoError(t, st.UpdateCourierLocation(ctx, c.ID, models.LocationSample{
		Location: models.Coordinate{Lat: 12.9, Lng: 77.6},
		At:       at,
	}))

	got, err := st.GetCourier(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, got.Available)
	require.NotNil(t, got.LastLocation)
	require.InDelta(t, 12.9, got.LastLocation.Lat, 1e-9)

	require.ErrorIs(t, st.SetAvailability(ctx, 404, true), models.ErrNotFound)
	_, err = st.GetCourier(ctx, 404)
	require.ErrorIs(t, err, models.ErrNotFound)
}
