package handlers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vesture-shop/api/internal/domain"
	"github.com/vesture-shop/api/internal/platform/httpx"
	"github.com/vesture-shop/api/internal/services"
)

const (
	defaultOrderListLimit = 50
	maxOrderListLimit     = 200
	maxOrderBodySize      = 64 * 1024
)

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPlaced:           {},
	domain.OrderStatusPaymentConfirmed: {},
	domain.OrderStatusProcessing:       {},
	domain.OrderStatusShipped:          {},
	domain.OrderStatusDelivered:        {},
	domain.OrderStatusCancelled:        {},
}

var exportCSVHeader = []string{
	"Order ID", "Customer Name", "Customer Email", "Total Amount",
	"Status", "Created Date", "Items Count", "Shipping Cost",
}

type createOrderRequest struct {
	UserID        string             `json:"userId"`
	Items         []orderItemRequest `json:"items"`
	Customer      customerRequest    `json:"customer"`
	PaymentMethod string             `json:"paymentMethod"`
	PromoCode     string             `json:"promoCode"`
}

type orderItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size"`
	Color     string `json:"color"`
}

type customerRequest struct {
	Name    string         `json:"name"`
	Email   string         `json:"email"`
	Phone   string         `json:"phone"`
	Address addressRequest `json:"address"`
}

type addressRequest struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type updateOrderStatusRequest struct {
	Status string `json:"status"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// OrderHandlers exposes the order lifecycle endpoints.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/export", h.exportOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Patch("/{orderID}/status", h.updateStatus)
	r.Post("/{orderID}/cancel", h.cancelOrder)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	req, ok := decodeBody[createOrderRequest](ctx, w, r)
	if !ok {
		return
	}

	cmd := services.CreateOrderCommand{
		UserID:        strings.TrimSpace(req.UserID),
		Items:         make([]services.OrderItemInput, 0, len(req.Items)),
		PaymentMethod: domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		PromoCode:     strings.TrimSpace(req.PromoCode),
		Customer: domain.CustomerInfo{
			Name:  strings.TrimSpace(req.Customer.Name),
			Email: strings.TrimSpace(req.Customer.Email),
			Phone: strings.TrimSpace(req.Customer.Phone),
			Address: domain.Address{
				Line1:      strings.TrimSpace(req.Customer.Address.Line1),
				Line2:      strings.TrimSpace(req.Customer.Address.Line2),
				City:       strings.TrimSpace(req.Customer.Address.City),
				State:      strings.TrimSpace(req.Customer.Address.State),
				PostalCode: strings.TrimSpace(req.Customer.Address.PostalCode),
				Country:    strings.TrimSpace(req.Customer.Address.Country),
			},
		},
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.OrderItemInput{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
			Size:      strings.TrimSpace(item.Size),
			Color:     strings.TrimSpace(item.Color),
		})
	}

	order, err := h.orders.Create(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query, ok := h.parseListQuery(w, r)
	if !ok {
		return
	}

	orders, err := h.orders.List(ctx, query)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{Items: items})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Get(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	req, ok := decodeBody[updateOrderStatusRequest](ctx, w, r)
	if !ok {
		return
	}

	status := domain.OrderStatus(strings.TrimSpace(req.Status))
	if _, valid := validOrderStatuses[status]; !valid {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.UpdateStatusCommand{OrderID: orderID, Status: status})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	req, ok := decodeBody[cancelOrderRequest](ctx, w, r)
	if !ok {
		return
	}

	if strings.TrimSpace(req.Reason) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "cancellation reason is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{OrderID: orderID, Reason: strings.TrimSpace(req.Reason)})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) exportOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "format must be json or csv", http.StatusBadRequest))
		return
	}

	query, ok := h.parseListQuery(w, r)
	if !ok {
		return
	}
	query.Limit = 0 // exports are unbounded

	orders, err := h.orders.List(ctx, query)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	if format == "json" {
		items := make([]orderPayload, 0, len(orders))
		for _, order := range orders {
			items = append(items, buildOrderPayload(order))
		}
		writeJSONResponse(w, http.StatusOK, items)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="orders.csv"`)
	w.WriteHeader(http.StatusOK)

	writer := csv.NewWriter(w)
	_ = writer.Write(exportCSVHeader)
	for _, order := range orders {
		_ = writer.Write([]string{
			order.ID,
			order.Customer.Name,
			order.Customer.Email,
			order.Totals.Total.String(),
			string(order.Status),
			formatTime(order.CreatedAt),
			strconv.Itoa(len(order.Items)),
			order.Shipping.Cost.String(),
		})
	}
	writer.Flush()
}

func (h *OrderHandlers) parseListQuery(w http.ResponseWriter, r *http.Request) (services.ListOrdersQuery, bool) {
	ctx := r.Context()
	values := r.URL.Query()

	query := services.ListOrdersQuery{
		UserID: strings.TrimSpace(values.Get("userId")),
		Limit:  defaultOrderListLimit,
	}

	for _, raw := range parseFilterValues(values["status"]) {
		status := domain.OrderStatus(raw)
		if _, valid := validOrderStatuses[status]; !valid {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status filter contains an unknown order status", http.StatusBadRequest))
			return services.ListOrdersQuery{}, false
		}
		query.Statuses = append(query.Statuses, status)
	}

	if raw := strings.TrimSpace(values.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return services.ListOrdersQuery{}, false
		}
		query.CreatedFrom = ts
	}
	if raw := strings.TrimSpace(values.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return services.ListOrdersQuery{}, false
		}
		query.CreatedTo = ts
	}

	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be an integer", http.StatusBadRequest))
			return services.ListOrdersQuery{}, false
		}
		switch {
		case limit <= 0:
			query.Limit = defaultOrderListLimit
		case limit > maxOrderListLimit:
			query.Limit = maxOrderListLimit
		default:
			query.Limit = limit
		}
	}

	return query, true
}

// decodeBody reads and unmarshals a JSON request body, writing the error
// response itself on failure.
func decodeBody[T any](ctx context.Context, w http.ResponseWriter, r *http.Request) (T, bool) {
	var req T
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return req, false
	}
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return req, false
	}
	return req, true
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
