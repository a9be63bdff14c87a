package courier_api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BearBump/CourierHub/internal/models"
	"github.com/BearBump/CourierHub/internal/services/dashboard"
	"github.com/BearBump/CourierHub/internal/services/lifecycle"
	"github.com/BearBump/CourierHub/internal/services/orderfeed"
	"github.com/BearBump/CourierHub/internal/services/tracker"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

type SnapshotStore interface {
	ListOrdersSnapshot(ctx context.Context) ([]*models.Order, error)
}

type CourierStore interface {
	GetCourier(ctx context.Context, courierID uint64) (*models.Courier, error)
}

type CourierAPI struct {
	lifecycle *lifecycle.Service
	dashboard *dashboard.Service
	snapshots SnapshotStore
	couriers  CourierStore
	locations tracker.Sink
	radiusKm  float64
	validate  *validator.Validate
}

func New(
	lc *lifecycle.Service,
	db *dashboard.Service,
	snapshots SnapshotStore,
	couriers CourierStore,
	locations tracker.Sink,
	radiusKm float64,
) *CourierAPI {
	if radiusKm <= 0 {
		radiusKm = orderfeed.DefaultMatchRadiusKm
	}
	return &CourierAPI{
		lifecycle: lc,
		dashboard: db,
		snapshots: snapshots,
		couriers:  couriers,
		locations: locations,
		radiusKm:  radiusKm,
		validate:  validator.New(),
	}
}

func (a *CourierAPI) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/orders/{orderID}", a.getOrder)
		r.Get("/orders/{orderID}/timeline", a.getTimeline)
		r.Post("/orders/{orderID}/accept", a.acceptOrder)
		r.Post("/orders/{orderID}/advance", a.advanceOrder)

		r.Get("/couriers/{courierID}/feed", a.getFeed)
		r.Get("/couriers/{courierID}/summary", a.getSummary)
		r.Put("/couriers/{courierID}/availability", a.setAvailability)
		r.Post("/couriers/{courierID}/location", a.pushLocation)
	})
}

func (a *CourierAPI) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "orderID")
	if err != nil {
		writeError(w, err)
		return
	}
	o, err := a.lifecycle.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *CourierAPI) getTimeline(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "orderID")
	if err != nil {
		writeError(w, err)
		return
	}
	limit, offset := pagination(r)
	entries, err := a.lifecycle.Timeline(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type acceptRequest struct {
	CourierID uint64 `json:"courierId" validate:"required"`
}

func (a *CourierAPI) acceptOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "orderID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req acceptRequest
	if err := decode(r, a.validate, &req); err != nil {
		writeError(w, err)
		return
	}
	o, err := a.lifecycle.Accept(r.Context(), id, req.CourierID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type advanceRequest struct {
	CourierID uint64             `json:"courierId" validate:"required"`
	To        string             `json:"to" validate:"required,oneof=picked_up on_the_way out_for_delivery delivered cancelled"`
	Note      *string            `json:"note,omitempty"`
	Location  *models.Coordinate `json:"location,omitempty"`
}

func (a *CourierAPI) advanceOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "orderID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req advanceRequest
	if err := decode(r, a.validate, &req); err != nil {
		writeError(w, err)
		return
	}
	o, err := a.lifecycle.Advance(r.Context(), id, req.CourierID, req.To, req.Note, req.Location)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// getFeed is the pull flavour of the live feed: one classification pass
// over the current snapshot, same disjoint views the subscription emits.
func (a *CourierAPI) getFeed(w http.ResponseWriter, r *http.Request) {
	courierID, err := pathID(r, "courierID")
	if err != nil {
		writeError(w, err)
		return
	}

	at := coordFromQuery(r)
	if at.IsZero() {
		// Запасной вариант: последняя известная точка из профиля.
		if c, err := a.couriers.GetCourier(r.Context(), courierID); err == nil && c.LastLocation != nil {
			at = *c.LastLocation
		}
	}

	snap, err := a.snapshots.ListOrdersSnapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	upd := orderfeed.Classify(snap, courierID, at, a.radiusKm)
	writeJSON(w, http.StatusOK, map[string]any{
		"available": emptyIfNil(upd.Available),
		"assigned":  emptyIfNil(upd.Assigned),
		"completed": emptyIfNil(upd.Completed),
	})
}

func (a *CourierAPI) getSummary(w http.ResponseWriter, r *http.Request) {
	courierID, err := pathID(r, "courierID")
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := a.couriers.GetCourier(r.Context(), courierID); err != nil {
		writeError(w, err)
		return
	}
	sum, err := a.dashboard.Summary(r.Context(), courierID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type availabilityRequest struct {
	Available *bool `json:"available" validate:"required"`
}

func (a *CourierAPI) setAvailability(w http.ResponseWriter, r *http.Request) {
	courierID, err := pathID(r, "courierID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req availabilityRequest
	if err := decode(r, a.validate, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := a.lifecycle.SetAvailability(r.Context(), courierID, *req.Available); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"available": *req.Available})
}

type locationRequest struct {
	Lat float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"required,gte=-180,lte=180"`
}

func (a *CourierAPI) pushLocation(w http.ResponseWriter, r *http.Request) {
	courierID, err := pathID(r, "courierID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req locationRequest
	if err := decode(r, a.validate, &req); err != nil {
		writeError(w, err)
		return
	}
	if _, err := a.couriers.GetCourier(r.Context(), courierID); err != nil {
		writeError(w, err)
		return
	}
	sample := models.LocationSample{
		Location: models.Coordinate{Lat: req.Lat, Lng: req.Lng},
		At:       time.Now().UTC(),
	}
	if err := a.locations.Write(r.Context(), courierID, sample); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recorded": true})
}

var errBadRequest = errors.New("bad request")

func pathID(r *http.Request, name string) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.WithMessagef(errBadRequest, "invalid %s", name)
	}
	return id, nil
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 100
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 1000 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func coordFromQuery(r *http.Request) models.Coordinate {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if errLat != nil || errLng != nil {
		return models.Coordinate{}
	}
	return models.Coordinate{Lat: lat, Lng: lng}
}

func decode(r *http.Request, v *validator.Validate, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.WithMessage(errBadRequest, "invalid request body")
	}
	if err := v.Struct(dst); err != nil {
		return errors.WithMessage(errBadRequest, err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrAlreadyAssigned),
		errors.Is(err, models.ErrAlreadyHasActiveOrder),
		errors.Is(err, models.ErrPreconditionFailed):
		status = http.StatusConflict
	case errors.Is(err, models.ErrNotAvailable),
		errors.Is(err, models.ErrFoodNotReady),
		errors.Is(err, models.ErrInvalidTransition):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		slog.Error("courier api", "error", err.Error())
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func emptyIfNil(orders []*models.Order) []*models.Order {
	if orders == nil {
		return []*models.Order{}
	}
	return orders
}
