// Package httpapi is the loopback HTTP surface the register UI talks to. It
// authenticates sessions, dispatches to the register service, and maps domain
// errors onto HTTP statuses.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/millerdave152-droid/quotation-app-sub010/internal/authority"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/backend"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/cart"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/domain"
	"github.com/millerdave152-droid/quotation-app-sub010/internal/register"
)

type API struct {
	register      *register.Service
	auth          *AuthManager
	allowedOrigin string
	signOnLimiter *attemptLimiter
	pinLimiter    *attemptLimiter
}

func New(svc *register.Service, auth *AuthManager, allowedOrigin string) *API {
	return &API{
		register:      svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		signOnLimiter: newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/session", a.handleSignOn)

	mux.HandleFunc("/api/v1/cart", a.requireAuth(a.handleCart))
	mux.HandleFunc("/api/v1/cart/items", a.requireAuth(a.handleItems))
	mux.HandleFunc("/api/v1/cart/items/", a.requireAuth(a.handleItemActions))
	mux.HandleFunc("/api/v1/cart/customer", a.requireAuth(a.handleCustomer))
	mux.HandleFunc("/api/v1/cart/discount", a.requireAuth(a.handleCartDiscount))
	mux.HandleFunc("/api/v1/cart/promotion", a.requireAuth(a.handlePromotion))
	mux.HandleFunc("/api/v1/cart/fulfillment", a.requireAuth(a.handleFulfillment))
	mux.HandleFunc("/api/v1/cart/commission-split", a.requireAuth(a.handleCommissionSplit))
	mux.HandleFunc("/api/v1/cart/trade-ins", a.requireAuth(a.handleTradeIns))
	mux.HandleFunc("/api/v1/cart/trade-ins/", a.requireAuth(a.handleTradeInActions))
	mux.HandleFunc("/api/v1/cart/jurisdiction", a.requireAuth(a.handleJurisdiction))
	mux.HandleFunc("/api/v1/cart/quote", a.requireAuth(a.handleLoadQuote))
	mux.HandleFunc("/api/v1/cart/clear", a.requireAuth(a.handleClearCart))
	mux.HandleFunc("/api/v1/cart/hold", a.requireAuth(a.handleHold))

	mux.HandleFunc("/api/v1/carts/held", a.requireAuth(a.handleHeldCarts))
	mux.HandleFunc("/api/v1/carts/held/", a.requireAuth(a.handleHeldCartActions))

	mux.HandleFunc("/api/v1/pricing/tiers", a.requireAuth(a.handleVolumeTiers))
	mux.HandleFunc("/api/v1/authority/profile", a.requireAuth(a.handleProfile))

	mux.HandleFunc("/api/v1/escalations/mine", a.requireAuth(a.handleMyEscalations))
	mux.HandleFunc("/api/v1/escalations/pending", a.requireAuth(a.handlePendingEscalations))
	mux.HandleFunc("/api/v1/escalations/", a.requireAuth(a.handleEscalationReview))

	mux.HandleFunc("/api/v1/notifications", a.requireAuth(a.handleNotifications))
	mux.HandleFunc("/api/v1/notifications/", a.requireAuth(a.handleNotificationActions))

	mux.HandleFunc("/api/v1/checkout", a.requireAuth(a.handleCheckout))
	mux.HandleFunc("/api/v1/favorites", a.requireAuth(a.handleFavorites))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		next(w, r.WithContext(register.WithActor(r.Context(), actor)))
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleSignOn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.signOnLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many sign-on attempts"))
		return
	}

	var req SignOnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, actor, err := a.auth.SignOn(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	if err := a.register.StartSession(r.Context(), actor); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, a.register.CurrentView())
}

func (a *API) handleItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.LineItem
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	added, err := a.register.AddItem(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"item": added, "view": a.register.CurrentView()})
}

func (a *API) handleItemActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	lineItemID, action, ok := splitAction(r.URL.Path, "/api/v1/cart/items/")
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("invalid item action path"))
		return
	}

	var err error
	switch action {
	case "remove":
		err = a.register.RemoveItem(r.Context(), lineItemID)
	case "quantity":
		var req struct {
			Quantity int `json:"quantity"`
		}
		if err = decodeJSON(r, &req); err == nil {
			err = a.register.UpdateQuantity(r.Context(), lineItemID, req.Quantity)
		}
	case "price":
		var req struct {
			Price  decimal.Decimal `json:"price"`
			Reason string          `json:"reason"`
		}
		if err = decodeJSON(r, &req); err == nil {
			err = a.register.SetItemPrice(r.Context(), lineItemID, req.Price, req.Reason)
		}
	case "serial":
		var req struct {
			SerialNumber string `json:"serial_number"`
		}
		if err = decodeJSON(r, &req); err == nil {
			err = a.register.SetItemSerial(lineItemID, req.SerialNumber)
		}
	case "discount":
		var req struct {
			DiscountPct decimal.Decimal `json:"discount_pct"`
		}
		if err = decodeJSON(r, &req); err == nil {
			err = a.register.ApplyDiscount(r.Context(), lineItemID, req.DiscountPct)
		}
	case "discount/preview":
		var req struct {
			DiscountPct decimal.Decimal `json:"discount_pct"`
		}
		if err = decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		preview, err := a.register.PreviewDiscount(lineItemID, req.DiscountPct)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, preview)
		return
	case "discount/clear":
		err = a.register.ClearDiscount(lineItemID)
	case "escalations":
		var req struct {
			DiscountPct decimal.Decimal `json:"discount_pct"`
			Reason      string          `json:"reason"`
		}
		if err = decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		esc, err := a.register.RequestEscalation(r.Context(), lineItemID, req.DiscountPct, req.Reason)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"escalation": esc})
		return
	case "escalations/apply":
		var req struct {
			EscalationID string `json:"escalation_id"`
		}
		if err = decodeJSON(r, &req); err == nil {
			err = a.register.ApplyEscalation(r.Context(), lineItemID, req.EscalationID)
		}
	default:
		writeError(w, http.StatusBadRequest, errors.New("unknown item action"))
		return
	}

	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, a.register.CurrentView())
}

func (a *API) handleCustomer(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req domain.Customer
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := a.register.SetCustomer(r.Context(), req); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	case http.MethodDelete:
		if err := a.register.ClearCustomer(r.Context()); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	default:
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, a.register.CurrentView())
}

func (a *API) handleCartDiscount(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Amount decimal.Decimal `json:"amount"`
			Reason string          `json:"reason"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := a.register.SetCartDiscount(req.Amount, req.Reason); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	case http.MethodDelete:
		if err := a.register.ClearCartDiscount(); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	default:
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, a.register.CurrentView())
}

func (a *API) handlePromotion(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req domain.Promotion
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := a.register.ApplyPromotion(req); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	case http.MethodDelete:
		if err := a.register.ClearPromotion(); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	default:
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, a.register.CurrentView())
}

func (a *API) handleFulfillment(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req domain.Fulfillment
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := a.register.SetFulfillment(req); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	case http.MethodDelete:
		if err := a.register.ClearFulfillment(); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	default:
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, a.register.CurrentView())
}

func (a *API) handleCommissionSplit(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req domain.CommissionSplit
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := a.register.SetCommissionSplit(&req); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	case http.MethodDelete:
		if err := a.register.SetCommissionSplit(nil); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	default:
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, a.register.CurrentView())
}

func (a *API) handleTradeIns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req domain.TradeIn
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := a.register.AddTradeIn(req); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	case http.MethodDelete:
		if err := a.register.ClearTradeIns(r.Context()); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	default:
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, a.register.CurrentView())
}

func (a *API) handleTradeInActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	assessmentID, action, ok := splitAction(r.URL.Path, "/api/v1/cart/trade-ins/")
	if !ok || action != "remove" {
		writeError(w, http.StatusBadRequest, errors.New("invalid trade-in action path"))
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.register.RemoveTradeIn(r.Context(), assessmentID, req.Reason); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, a.register.CurrentView())
}

func (a *API) handleJurisdiction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req struct {
		Jurisdiction string `json:"jurisdiction"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.register.SetJurisdiction(req.Jurisdiction); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, a.register.CurrentView())
}

func (a *API) handleLoadQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.Quote
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.register.LoadFromQuote(r.Context(), req); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, a.register.CurrentView())
}

func (a *API) handleClearCart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if err := a.register.ClearCart(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, a.register.CurrentView())
}

func (a *API) handleHold(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req struct {
		Label string `json:"label"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	held, err := a.register.HoldCart(r.Context(), req.Label)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"held": held, "view": a.register.CurrentView()})
}

func (a *API) handleHeldCarts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"held": a.register.HeldCarts()})
	case http.MethodDelete:
		if err := a.register.ClearHeldCarts(r.Context()); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleHeldCartActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	heldID, action, ok := splitAction(r.URL.Path, "/api/v1/carts/held/")
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("invalid held cart action path"))
		return
	}

	switch action {
	case "recall":
		if _, err := a.register.RecallCart(r.Context(), heldID); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, a.register.CurrentView())
	case "discard":
		if err := a.register.DeleteHeldCart(r.Context(), heldID); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusBadRequest, errors.New("unknown held cart action"))
	}
}

func (a *API) handleVolumeTiers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	productID := strings.TrimSpace(r.URL.Query().Get("product_id"))
	if productID == "" {
		writeError(w, http.StatusBadRequest, errors.New("product_id required"))
		return
	}

	tiers, err := a.register.VolumeTiers(r.Context(), productID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	resp := map[string]any{"tiers": tiers}
	if raw := r.URL.Query().Get("qty"); raw != "" {
		if qty, err := strconv.Atoi(raw); err == nil && qty > 0 {
			hint, err := a.register.NextTierHint(r.Context(), productID, qty)
			if err == nil && hint != nil {
				resp["next_tier"] = hint
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	profile, ok := a.register.Profile()
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("tier profile not loaded"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile": profile})
}

func (a *API) handleMyEscalations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	escalations, err := a.register.MyEscalations(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"escalations": escalations})
}

func (a *API) handlePendingEscalations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	actor, _ := register.ActorFromContext(r.Context())
	escalations, err := a.register.PendingEscalations(r.Context(), actor)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"escalations": escalations})
}

// handleEscalationReview covers approve/deny. Both require the manager role
// on the session token and the manager PIN in the request body.
func (a *API) handleEscalationReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	escalationID, action, ok := splitAction(r.URL.Path, "/api/v1/escalations/")
	if !ok || (action != "approve" && action != "deny") {
		writeError(w, http.StatusBadRequest, errors.New("invalid escalation action path"))
		return
	}

	var req struct {
		ManagerPIN string `json:"manager_pin"`
		Notes      string `json:"notes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !a.pinLimiter.Allow("pin:review:" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return
	}
	if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
		writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
		return
	}

	actor, _ := register.ActorFromContext(r.Context())
	var err error
	if action == "approve" {
		err = a.register.ApproveEscalation(r.Context(), actor, escalationID, req.Notes)
	} else {
		err = a.register.DenyEscalation(r.Context(), actor, escalationID, req.Notes)
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": a.register.Notifications()})
}

func (a *API) handleNotificationActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	escalationID, action, ok := splitAction(r.URL.Path, "/api/v1/notifications/")
	if !ok || action != "dismiss" {
		writeError(w, http.StatusBadRequest, errors.New("invalid notification action path"))
		return
	}
	a.register.DismissNotification(escalationID)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req struct {
		Payments []domain.Payment `json:"payments"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := a.register.Checkout(r.Context(), req.Payments)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleFavorites(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 20, 100)
	favorites, err := a.register.Favorites(r.Context(), limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"favorites": favorites})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

// splitAction splits "/prefix/{id}/{action...}" into id and action.
func splitAction(path, prefix string) (id, action string, ok bool) {
	if !strings.HasPrefix(path, prefix) {
		return "", "", false
	}
	tail := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	idx := strings.Index(tail, "/")
	if idx <= 0 {
		return "", "", false
	}
	return tail[:idx], tail[idx+1:], true
}

// statusFor maps domain errors onto HTTP statuses, shared across handlers.
func statusFor(err error) int {
	switch {
	case errors.Is(err, cart.ErrItemNotFound),
		errors.Is(err, cart.ErrHeldNotFound),
		errors.Is(err, backend.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, cart.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, backend.ErrUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, authority.ErrNoTier):
		return http.StatusConflict
	default:
		// Rejections, ceiling violations, empty-cart holds and the like are
		// well-formed requests the domain refused.
		return http.StatusUnprocessableEntity
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
