package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// Mock is an in-process stand-in for the payment processor. It accepts
// signed intent and refund requests and can play the customer's side of
// checkout to produce a valid callback triplet.
type Mock struct {
	secret string
	logger *slog.Logger

	mu       sync.Mutex
	seq      int
	intents  map[string]int64
	refunded map[string]int64
	mux      *http.ServeMux
}

func NewMock(secret string, logger *slog.Logger) *Mock {
	m := &Mock{
		secret:   secret,
		logger:   logger,
		intents:  make(map[string]int64),
		refunded: make(map[string]int64),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", m.handleHealth)
	mux.HandleFunc("POST /v1/intents", m.handleIntent)
	mux.HandleFunc("POST /v1/payments/{id}/refunds", m.handleRefund)
	mux.HandleFunc("POST /v1/checkout", m.handleCheckout)
	m.mux = mux
	return m
}

func (m *Mock) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mux.ServeHTTP(w, r)
}

// Checkout simulates a successful customer payment against an intent and
// returns the payment id and signature the client would post back.
func (m *Mock) Checkout(gatewayOrderID string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.intents[gatewayOrderID]; !ok {
		return "", "", fmt.Errorf("Checkout: unknown intent %q", gatewayOrderID)
	}
	m.seq++
	paymentID := fmt.Sprintf("pay_%d", m.seq)
	return paymentID, Sign(m.secret, gatewayOrderID, paymentID), nil
}

// Refunded reports the minor units refunded against a gateway payment.
func (m *Mock) Refunded(gatewayPaymentID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refunded[gatewayPaymentID]
}

func (m *Mock) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readSigned reads the body and rejects it unless it carries a valid
// X-Gateway-Signature.
func (m *Mock) readSigned(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return false
	}
	if !VerifyBody(m.secret, body, r.Header.Get("X-Gateway-Signature")) {
		m.logger.Warn("rejected unsigned gateway request", "path", r.URL.Path)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad signature"})
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}

func (m *Mock) handleIntent(w http.ResponseWriter, r *http.Request) {
	var req intentRequest
	if !m.readSigned(w, r, &req) {
		return
	}
	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount must be positive"})
		return
	}

	m.mu.Lock()
	m.seq++
	id := fmt.Sprintf("order_%d", m.seq)
	m.intents[id] = req.Amount
	m.mu.Unlock()

	m.logger.Info("intent created", "id", id, "amount", req.Amount, "receipt", req.Receipt)
	writeJSON(w, http.StatusCreated, intentResponse{ID: id})
}

func (m *Mock) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if !m.readSigned(w, r, &req) {
		return
	}
	paymentID := r.PathValue("id")

	m.mu.Lock()
	m.seq++
	id := fmt.Sprintf("rfnd_%d", m.seq)
	m.refunded[paymentID] += req.Amount
	m.mu.Unlock()

	m.logger.Info("refund created", "id", id, "payment_id", paymentID, "amount", req.Amount)
	writeJSON(w, http.StatusCreated, refundResponse{ID: id})
}

type checkoutRequest struct {
	GatewayOrderID string `json:"gateway_order_id"`
}

type checkoutResponse struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}

func (m *Mock) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	paymentID, signature, err := m.Checkout(req.GatewayOrderID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: paymentID,
		Signature:        signature,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write gateway response", "error", err)
	}
}
