package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/openclob/exchange/internal/auth"
	"github.com/openclob/exchange/internal/db"
	"github.com/openclob/exchange/internal/exchange"
	"github.com/openclob/exchange/internal/models"
	"github.com/shopspring/decimal"
)

type contextKey string

const userIDKey contextKey = "user_id"

// Handler contains dependencies for HTTP handlers. It owns the book's
// lock: the engine is single-threaded by contract, so every Process,
// Spread and Depth call goes through mu.
type Handler struct {
	DB   *db.DB
	Auth *auth.Service

	mu   sync.Mutex
	book *exchange.Book[models.Asset]
}

// NewHandler creates a new handler around the book for one asset pair
func NewHandler(database *db.DB, book *exchange.Book[models.Asset], authService *auth.Service) *Handler {
	return &Handler{DB: database, Auth: authService, book: book}
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, `{"error": "Username and password required"}`, http.StatusBadRequest)
		return
	}

	user, err := h.Auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Failed to register user"}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	token, err := h.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens and attaches the submitter's
// user id to the request context.
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, `{"error": "Authorization header required"}`, http.StatusUnauthorized)
			return
		}

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, err := h.Auth.GetUserFromToken(tokenString)
		if err != nil {
			http.Error(w, `{"error": "Invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestUser(r *http.Request) (int, bool) {
	userID, ok := r.Context().Value(userIDKey).(int)
	return userID, ok
}

// outcomeView is the wire form of an engine outcome.
type outcomeView struct {
	Kind      string          `json:"kind"`
	OrderID   string          `json:"order_id,omitempty"`
	Side      string          `json:"side,omitempty"`
	Type      string          `json:"type,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp time.Time       `json:"timestamp"`
	Reason    string          `json:"reason,omitempty"`
}

func viewOutcomes(outcomes []exchange.Outcome[models.Asset]) []outcomeView {
	views := make([]outcomeView, 0, len(outcomes))
	for _, out := range outcomes {
		v := outcomeView{
			Kind:      out.Kind.String(),
			Price:     out.Price,
			Quantity:  out.Qty,
			Timestamp: out.Timestamp,
			Reason:    out.Reason,
		}
		if out.OrderID != uuid.Nil {
			v.OrderID = out.OrderID.String()
			v.Side = out.Side.String()
			v.Type = out.Type.String()
		}
		views = append(views, v)
	}
	return views
}

// process runs one request through the engine under the book lock.
func (h *Handler) process(req exchange.Request[models.Asset]) []exchange.Outcome[models.Asset] {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.book.Process(req)
}

// aggressorID finds the id the engine assigned to the incoming order:
// it is the only order on the request's own side among the outcomes.
func aggressorID(outcomes []exchange.Outcome[models.Asset], side exchange.Side) uuid.UUID {
	for _, out := range outcomes {
		if out.Side == side {
			return out.OrderID
		}
	}
	return uuid.Nil
}

// PlaceOrder handles order placement and matching
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		OrderAsset string          `json:"order_asset"`
		PriceAsset string          `json:"price_asset"`
		Side       string          `json:"side"`
		Type       string          `json:"type"`
		Price      decimal.Decimal `json:"price"`
		Quantity   decimal.Decimal `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	side, ok := exchange.ParseSide(req.Side)
	if !ok {
		http.Error(w, `{"error": "Side must be 'bid' or 'ask'"}`, http.StatusBadRequest)
		return
	}
	if req.Type != "limit" && req.Type != "market" {
		http.Error(w, `{"error": "Type must be 'limit' or 'market'"}`, http.StatusBadRequest)
		return
	}

	// An omitted pair defaults to the book's own; anything else is
	// passed through so the engine's asset checks apply.
	orderAsset, priceAsset := h.book.Pair()
	if req.OrderAsset != "" {
		if orderAsset, ok = models.ParseAsset(req.OrderAsset); !ok {
			http.Error(w, `{"error": "Unknown order asset"}`, http.StatusBadRequest)
			return
		}
	}
	if req.PriceAsset != "" {
		if priceAsset, ok = models.ParseAsset(req.PriceAsset); !ok {
			http.Error(w, `{"error": "Unknown price asset"}`, http.StatusBadRequest)
			return
		}
	}

	var engineReq exchange.Request[models.Asset]
	if req.Type == "market" {
		engineReq = exchange.NewMarketOrder(orderAsset, priceAsset, side, req.Quantity, time.Now())
	} else {
		engineReq = exchange.NewLimitOrder(orderAsset, priceAsset, side, req.Price, req.Quantity, time.Now())
	}

	outcomes := h.process(engineReq)

	if len(outcomes) == 1 && outcomes[0].Kind == exchange.Failed {
		// Surface the rejection reason verbatim to the submitter.
		http.Error(w, `{"error": "`+outcomes[0].Reason+`"}`, http.StatusBadRequest)
		return
	}

	if len(outcomes) == 0 {
		// Market order against an empty opposite side: nothing
		// filled, nothing rested, nothing to record.
		json.NewEncoder(w).Encode(map[string]interface{}{
			"message":  "No liquidity available",
			"outcomes": []outcomeView{},
		})
		return
	}

	orderID := aggressorID(outcomes, side)

	status := "filled"
	for _, out := range outcomes {
		if out.Kind == exchange.Accepted {
			status = "open"
		}
	}

	order := models.Order{
		ID:       orderID,
		UserID:   userID,
		Side:     side.String(),
		Type:     req.Type,
		Price:    req.Price,
		Quantity: req.Quantity,
		Status:   status,
	}
	if _, err := h.DB.CreateOrder(r.Context(), &order); err != nil {
		http.Error(w, `{"error": "Failed to record order"}`, http.StatusInternalServerError)
		return
	}

	if err := h.DB.RecordOutcomes(r.Context(), outcomes); err != nil {
		http.Error(w, `{"error": "Failed to record outcomes"}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"order_id": orderID.String(),
		"outcomes": viewOutcomes(outcomes),
	})
}

// AmendOrder replaces the price and quantity of a resting order. The
// order loses time priority.
func (h *Handler) AmendOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error": "Invalid order ID"}`, http.StatusBadRequest)
		return
	}

	var req struct {
		Price    decimal.Decimal `json:"price"`
		Quantity decimal.Decimal `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	// Ownership check against the durable record; the engine only
	// knows ids, not submitters.
	order, err := h.DB.GetOrder(r.Context(), orderID)
	if err != nil || order.UserID != userID {
		http.Error(w, `{"error": "Order not found"}`, http.StatusNotFound)
		return
	}
	side, ok := exchange.ParseSide(order.Side)
	if !ok {
		http.Error(w, `{"error": "Corrupt order record"}`, http.StatusInternalServerError)
		return
	}

	outcomes := h.process(exchange.AmendOrder[models.Asset](orderID, side, req.Price, req.Quantity, time.Now()))

	if outcomes[0].Kind == exchange.Failed {
		reason := outcomes[0].Reason
		code := http.StatusBadRequest
		if reason == exchange.ReasonOrderNotFound {
			code = http.StatusNotFound
		}
		http.Error(w, `{"error": "`+reason+`"}`, code)
		return
	}

	if err := h.DB.RecordOutcomes(r.Context(), outcomes); err != nil {
		http.Error(w, `{"error": "Failed to record outcomes"}`, http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"order_id": orderID.String(),
		"outcomes": viewOutcomes(outcomes),
	})
}

// CancelOrder cancels an open order
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error": "Invalid order ID"}`, http.StatusBadRequest)
		return
	}

	order, err := h.DB.GetOrder(r.Context(), orderID)
	if err != nil || order.UserID != userID {
		http.Error(w, `{"error": "Order not found"}`, http.StatusNotFound)
		return
	}
	side, ok := exchange.ParseSide(order.Side)
	if !ok {
		http.Error(w, `{"error": "Corrupt order record"}`, http.StatusInternalServerError)
		return
	}

	// Cancel order in database first; it enforces ownership and the
	// open status inside a transaction.
	if err := h.DB.CancelOrder(r.Context(), orderID, userID); err != nil {
		http.Error(w, `{"error": "Failed to cancel order: `+err.Error()+`"}`, http.StatusBadRequest)
		return
	}

	outcomes := h.process(exchange.CancelOrder[models.Asset](orderID, side))
	if outcomes[0].Kind == exchange.Failed {
		// DB said open but the book disagrees; the DB row is already
		// canceled, so log and report success.
		log.Printf("Order %s not found in order book", orderID)
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":  "Order canceled",
		"outcomes": viewOutcomes(outcomes),
	})
}

// GetUserOrders retrieves a user's orders
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	orders, err := h.DB.GetUserOrders(r.Context(), userID)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve orders"}`, http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(orders)
}

// GetUserFills retrieves the executions against a user's orders
func (h *Handler) GetUserFills(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUser(r)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	fills, err := h.DB.GetUserFills(r.Context(), userID)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve fills"}`, http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(fills)
}

// BookSnapshot is the public view of the resting book.
type BookSnapshot struct {
	Bids    []exchange.LevelDepth `json:"bids"`
	Asks    []exchange.LevelDepth `json:"asks"`
	BestBid *decimal.Decimal      `json:"best_bid"`
	BestAsk *decimal.Decimal      `json:"best_ask"`
}

// Snapshot captures depth and spread atomically under the book lock.
// Shared with the websocket broadcaster.
func (h *Handler) Snapshot() BookSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := BookSnapshot{}
	depth := h.book.Depth()
	snap.Bids = depth.Bids
	snap.Asks = depth.Asks
	if bid, ask, ok := h.book.Spread(); ok {
		snap.BestBid = &bid
		snap.BestAsk = &ask
	}
	return snap
}

// GetOrderBook retrieves the current aggregated order book
func (h *Handler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(h.Snapshot())
}

// GetSpread retrieves the best resting bid and ask prices
func (h *Handler) GetSpread(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	bid, ask, ok := h.book.Spread()
	h.mu.Unlock()

	if !ok {
		json.NewEncoder(w).Encode(map[string]interface{}{"spread": nil})
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"best_bid": bid,
		"best_ask": ask,
	})
}
