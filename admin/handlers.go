package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/louros-pizzaria/cardapio-digital-sub002/cache"
	"github.com/louros-pizzaria/cardapio-digital-sub002/orders"
	"github.com/louros-pizzaria/cardapio-digital-sub002/realtime"
	"github.com/louros-pizzaria/cardapio-digital-sub002/schedule"
)

// ScheduleStore persists the operating-hours config
type ScheduleStore interface {
	Load(ctx context.Context) (schedule.StoreScheduleConfig, error)
	Save(ctx context.Context, config schedule.StoreScheduleConfig) error
}

// OrdersStore reads order rows for the dashboard views
type OrdersStore interface {
	ListActive(ctx context.Context) ([]orders.Order, error)
	GetByID(ctx context.Context, id string) (orders.Order, error)
	Items(ctx context.Context, orderID string) ([]orders.OrderItem, error)
}

// RealtimeManager is the slice of the subscription manager the admin API needs
type RealtimeManager interface {
	Metrics() realtime.Snapshot
	ForceReconnect(name string) error
}

// Handlers serves the admin API endpoints. Order reads go through the query
// cache; the "orders" invalidation group clears the cached entries, so the
// next read after a change burst hits the store again.
type Handlers struct {
	schedules ScheduleStore
	orders    OrdersStore
	queries   *cache.MemoryCache
	mgr       RealtimeManager
}

// NewHandlers creates a Handlers instance
func NewHandlers(schedules ScheduleStore, ordersStore OrdersStore, queries *cache.MemoryCache, mgr RealtimeManager) *Handlers {
	return &Handlers{
		schedules: schedules,
		orders:    ordersStore,
		queries:   queries,
		mgr:       mgr,
	}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.Warn().Err(err).Msg("Failed to encode admin response")
	}
}

// writeErrorResponse writes an error response with the given status code
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": message})
}

// handleGetSchedule returns the persisted operating-hours config
func (h *Handlers) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	config, err := h.schedules.Load(r.Context())
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, config)
}

// handlePutSchedule validates and persists a new operating-hours config.
// Validation failures return the full error list; nothing is persisted.
func (h *Handlers) handlePutSchedule(w http.ResponseWriter, r *http.Request) {
	var config schedule.StoreScheduleConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid schedule payload: "+err.Error())
		return
	}

	if err := h.schedules.Save(r.Context(), config); err != nil {
		if ve, ok := schedule.AsValidationError(err); ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(schedule.ValidationResult{
				Valid:  false,
				Errors: ve.Errors,
			})
			return
		}
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSONResponse(w, config)
}

// handleScheduleStatus answers "is the store open now" and the next opening
func (h *Handlers) handleScheduleStatus(w http.ResponseWriter, r *http.Request) {
	config, err := h.schedules.Load(r.Context())
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	open := schedule.IsStoreOpenNow(config.Schedules, config.AutoSchedule)

	status := map[string]interface{}{
		"open":           open,
		"autoSchedule":   config.AutoSchedule,
		"additionalInfo": config.AdditionalInfo,
	}
	if !open {
		if label, ok := schedule.NextOpeningNow(config.Schedules); ok {
			status["nextOpening"] = label
		}
	}

	writeJSONResponse(w, status)
}

// activeOrdersKey caches the active-orders listing. Keys live under the
// "orders" prefix so the orders invalidation group drops them.
const activeOrdersKey = "orders:active"

// handleListOrders returns the orders still needing attention, cached until
// the next invalidation
func (h *Handlers) handleListOrders(w http.ResponseWriter, r *http.Request) {
	if cached, ok := h.queries.Get(activeOrdersKey); ok {
		writeJSONResponse(w, cached)
		return
	}

	list, err := h.orders.ListActive(r.Context())
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []orders.Order{}
	}

	h.queries.Set(activeOrdersKey, list)
	writeJSONResponse(w, list)
}

// handleGetOrder returns one order with its line items
func (h *Handlers) handleGetOrder(w http.ResponseWriter, r *http.Request, id string) {
	key := "orders:" + id
	if cached, ok := h.queries.Get(key); ok {
		writeJSONResponse(w, cached)
		return
	}

	order, err := h.orders.GetByID(r.Context(), id)
	if errors.Is(err, orders.ErrNotFound) {
		writeErrorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	items, err := h.orders.Items(r.Context(), id)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []orders.OrderItem{}
	}

	detail := map[string]any{"order": order, "items": items}
	h.queries.Set(key, detail)
	writeJSONResponse(w, detail)
}

// handleRealtimeMetrics returns the per-channel connection snapshot
func (h *Handlers) handleRealtimeMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.mgr.Metrics())
}

// handleForceReconnect resets a channel's attempt counter and re-subscribes
func (h *Handlers) handleForceReconnect(w http.ResponseWriter, r *http.Request, channelName string) {
	if err := h.mgr.ForceReconnect(channelName); err != nil {
		writeErrorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSONResponse(w, map[string]string{"channel": channelName, "status": "reconnecting"})
}

// handleHealth is the liveness check
func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, map[string]string{"status": "ok"})
}
