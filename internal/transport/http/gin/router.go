// Package httpgin is the JSON transport: thin handlers binding DTOs onto the
// services and mapping domain errors to HTTP statuses.
package httpgin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/ticketops/boxoffice/internal/domain"
	redisrepo "github.com/ticketops/boxoffice/internal/repository/redis"
	"github.com/ticketops/boxoffice/internal/service"
	"github.com/ticketops/boxoffice/internal/service/admin"
	"github.com/ticketops/boxoffice/internal/service/orders"
)

// NewRouter assembles the HTTP surface. idem and limiter may be nil; order
// creation then runs without replay protection or throttling.
func NewRouter(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	limiter *redisrepo.SlidingWindowLimiter,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Public API
	r.GET("/events", handleListEvents(svcs))
	r.GET("/events/:id", handleGetEvent(svcs))
	r.GET("/events/:id/availability", handleGetAvailability(svcs))
	r.GET("/events/:id/seats", handleListEventSeats(svcs))
	r.GET("/events/:id/inventory/:type", handleGetInventory(svcs))

	r.POST("/orders", RateLimitMiddleware(limiter, "orders"), handleCreateOrder(svcs, idem))
	r.GET("/orders/:id", handleGetOrder(svcs))
	r.POST("/orders/:id/confirm", handleConfirmOrder(svcs))
	r.POST("/orders/:id/sold", handleMarkSold(svcs))
	r.POST("/orders/:id/complimentary", handleMarkComplimentary(svcs))
	r.POST("/orders/:id/cancel", handleCancelOrder(svcs))

	r.GET("/customers/:id/orders", handleListCustomerOrders(svcs))

	// Admin API
	// TODO: protect with operator auth
	adm := r.Group("/admin")
	{
		adm.POST("/events", handleCreateEvent(svcs))
		adm.POST("/events/:id/inventory", handleCreateInventory(svcs))
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  Create event
// @Param    req body CreateEventRequest true "payload"
// @Success  201 {object} EventResponse
// @Failure  400 {object} ErrorResponse
// @Router   /admin/events [post]
func handleCreateEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		date, err := parseRFC3339(req.EventDate)
		if err != nil {
			badRequest(c, "invalid event_date (RFC3339)")
			return
		}
		e, err := svcs.Admin.CreateEvent(c.Request.Context(), admin.CreateEventInput{
			Name:          req.Name,
			Venue:         req.Venue,
			EventDate:     date,
			TotalCapacity: req.TotalCapacity,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, toEventResponse(e))
	}
}

// @Summary  Open a ticket type for sale
// @Param    id  path  string  true  "Event ID"
// @Param    req body CreateInventoryRequest true "payload"
// @Success  201 {object} InventoryResponse
// @Failure  404 {object} ErrorResponse "event not found"
// @Failure  409 {object} ErrorResponse "inventory already exists"
// @Router   /admin/events/{id}/inventory [post]
func handleCreateInventory(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateInventoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		price, err := domain.NewMoney(req.Price, req.Currency)
		if err != nil {
			badRequest(c, "invalid price")
			return
		}
		inv, err := svcs.Admin.CreateInventory(c.Request.Context(), admin.CreateInventoryInput{
			EventID:    c.Param("id"),
			TicketType: req.TicketType,
			Total:      req.Total,
			Price:      price,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, toInventoryResponse(inv))
	}
}

// @Summary  List events
// @Param    limit  query  int     false "page size"
// @Param    cursor query  string  false "opaque page cursor"
// @Success  200 {object} EventsPageResponse
// @Router   /events [get]
func handleListEvents(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := parseIntDefault(c.Query("limit"), 20)
		events, next, err := svcs.Query.ListEvents(c.Request.Context(), limit, c.Query("cursor"))
		if err != nil {
			respondErr(c, err)
			return
		}
		resp := EventsPageResponse{Events: make([]EventResponse, 0, len(events)), Cursor: next}
		for _, e := range events {
			resp.Events = append(resp.Events, toEventResponse(e))
		}
		c.JSON(http.StatusOK, resp)
	}
}

// @Summary  Get event
// @Param    id  path  string  true  "Event ID"
// @Success  200 {object} EventResponse
// @Failure  404 {object} ErrorResponse
// @Router   /events/{id} [get]
func handleGetEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		e, err := svcs.Query.GetEvent(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		writeCachedJSON(c, http.StatusOK, toEventResponse(e), time.Minute)
	}
}

// @Summary  Get availability counters
// @Param    id  path  string  true  "Event ID"
// @Success  200 {object} AvailabilityResponse
// @Failure  404 {object} ErrorResponse
// @Router   /events/{id}/availability [get]
func handleGetAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		av, err := svcs.Query.Availability(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		resp := AvailabilityResponse{
			Event:     toEventResponse(av.Event),
			Inventory: make([]InventoryResponse, 0, len(av.Inventory)),
		}
		for _, inv := range av.Inventory {
			resp.Inventory = append(resp.Inventory, toInventoryResponse(inv))
		}
		writeCachedJSON(c, http.StatusOK, resp, 15*time.Second)
	}
}

// @Summary  List claimed seats of one ticket type
// @Param    id     path   string  true  "Event ID"
// @Param    type   query  string  true  "Ticket type"
// @Param    limit  query  int     false "page size"
// @Param    offset query  int     false "offset"
// @Success  200 {array} SeatResponse
// @Failure  400 {object} ErrorResponse
// @Router   /events/{id}/seats [get]
func handleListEventSeats(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		ticketType := c.Query("type")
		if ticketType == "" {
			badRequest(c, "missing type")
			return
		}
		limit := parseIntDefault(c.Query("limit"), 0)
		offset := parseIntDefault(c.Query("offset"), 0)

		seats, err := svcs.Query.ListSeatAssignments(c.Request.Context(), c.Param("id"), ticketType, limit, offset)
		if err != nil {
			respondErr(c, err)
			return
		}
		resp := make([]SeatResponse, 0, len(seats))
		for _, s := range seats {
			resp = append(resp, toSeatResponse(s))
		}
		writeCachedJSON(c, http.StatusOK, resp, 15*time.Second)
	}
}

// @Summary  Get one ticket type
// @Param    id    path  string  true  "Event ID"
// @Param    type  path  string  true  "Ticket type"
// @Success  200 {object} InventoryResponse
// @Failure  404 {object} ErrorResponse
// @Router   /events/{id}/inventory/{type} [get]
func handleGetInventory(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		inv, err := svcs.Query.GetInventory(c.Request.Context(), c.Param("id"), c.Param("type"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toInventoryResponse(inv))
	}
}

// @Summary  Create order (idempotent)
// @Param    req body CreateOrderRequest true "payload"
// @Header   201 {string} Idempotency-Key "echo"
// @Success  201 {object} OrderResponse
// @Failure  404 {object} ErrorResponse "inventory not found"
// @Failure  409 {object} ErrorResponse "insufficient inventory / idem in progress"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /orders [post]
func handleCreateOrder(svcs *service.Services, idem *redisrepo.IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemOrder(req.CustomerID, idemKey)

			if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
				c.Header("Idempotency-Key", idemKey)
				c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
				return
			}

			locked, err := idem.AcquireLock(c.Request.Context(), idemStorageKey, 60*time.Second)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
					c.Header("Idempotency-Key", idemKey)
					c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
				return
			}
		}

		ow, err := svcs.Orders.Create(c.Request.Context(), orders.CreateOrderInput{
			CustomerID: req.CustomerID,
			EventID:    req.EventID,
			EventName:  req.EventName,
			TicketType: req.TicketType,
			Quantity:   req.Quantity,
		})
		if err != nil {
			if idemStorageKey != "" {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		resp := toOrderResponse(ow.Order, ow.Tickets)
		if idemStorageKey != "" {
			b, _ := json.Marshal(resp)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

// @Summary  Get order with tickets
// @Param    id  path  string  true  "Order ID"
// @Success  200 {object} OrderResponse
// @Failure  404 {object} ErrorResponse
// @Router   /orders/{id} [get]
func handleGetOrder(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		ow, err := svcs.Orders.GetWithTickets(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toOrderResponse(ow.Order, ow.Tickets))
	}
}

// @Summary  Confirm order (capture payment contact)
// @Param    id  path  string  true  "Order ID"
// @Param    req body ConfirmOrderRequest true "payload"
// @Success  200 {object} OrderResponse
// @Failure  409 {object} ErrorResponse "invalid state transition"
// @Router   /orders/{id}/confirm [post]
func handleConfirmOrder(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ConfirmOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		o, err := svcs.Orders.Confirm(c.Request.Context(), c.Param("id"), orders.CustomerDetails{
			Name:          req.Name,
			Email:         req.Email,
			Phone:         req.Phone,
			Address:       req.Address,
			City:          req.City,
			Country:       req.Country,
			PaymentMethod: req.PaymentMethod,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toOrderResponse(o, nil))
	}
}

// @Summary  Mark order sold, assigning seats
// @Param    id  path  string  true  "Order ID"
// @Success  200 {object} OrderResponse
// @Failure  409 {object} ErrorResponse "invalid state transition / seats exhausted"
// @Router   /orders/{id}/sold [post]
func handleMarkSold(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		ow, err := svcs.Orders.MarkAsSold(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toOrderResponse(ow.Order, ow.Tickets))
	}
}

// @Summary  Issue order as complimentary
// @Param    id  path  string  true  "Order ID"
// @Param    req body ReasonRequest false "payload"
// @Success  200 {object} OrderResponse
// @Failure  409 {object} ErrorResponse "invalid state transition"
// @Router   /orders/{id}/complimentary [post]
func handleMarkComplimentary(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ReasonRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err.Error())
				return
			}
		}
		ow, err := svcs.Orders.MarkAsComplimentary(c.Request.Context(), c.Param("id"), req.Reason)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toOrderResponse(ow.Order, ow.Tickets))
	}
}

// @Summary  Cancel order, releasing its hold
// @Param    id  path  string  true  "Order ID"
// @Param    req body ReasonRequest false "payload"
// @Success  200 {object} OrderResponse
// @Failure  409 {object} ErrorResponse "invalid state transition"
// @Router   /orders/{id}/cancel [post]
func handleCancelOrder(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ReasonRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err.Error())
				return
			}
		}
		o, err := svcs.Orders.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, toOrderResponse(o, nil))
	}
}

// @Summary  List a customer's orders
// @Param    id     path   string  true  "Customer ID"
// @Param    limit  query  int     false "page size"
// @Param    cursor query  string  false "opaque page cursor"
// @Success  200 {object} OrdersPageResponse
// @Router   /customers/{id}/orders [get]
func handleListCustomerOrders(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := parseIntDefault(c.Query("limit"), 20)
		list, next, err := svcs.Orders.ListByCustomer(c.Request.Context(), c.Param("id"), limit, c.Query("cursor"))
		if err != nil {
			respondErr(c, err)
			return
		}
		resp := OrdersPageResponse{Orders: make([]OrderResponse, 0, len(list)), Cursor: next}
		for _, o := range list {
			resp.Orders = append(resp.Orders, toOrderResponse(o, nil))
		}
		c.JSON(http.StatusOK, resp)
	}
}

// --- Helpers ---

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

// respondErr maps domain errors onto statuses with stable payloads. Unmapped
// errors are recorded on the context for the logging middleware and surface
// as a plain 500.
func respondErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
	case errors.Is(err, domain.ErrInventoryNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "inventory not found"})
	case errors.Is(err, domain.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "order not found"})
	case errors.Is(err, domain.ErrDuplicateInventory):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "inventory already exists"})
	case errors.Is(err, domain.ErrInsufficientInventory):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "insufficient inventory"})
	case errors.Is(err, domain.ErrInvalidStateTransition):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "invalid state transition"})
	case errors.Is(err, domain.ErrSeatExhaustion):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "seat capacity exhausted"})
	case errors.Is(err, domain.ErrSeatAssignmentFailed):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "seat assignment failed"})
	case errors.Is(err, domain.ErrOptimisticLockConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "concurrent update, retry"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
