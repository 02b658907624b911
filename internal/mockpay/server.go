// Package mockpay is a stand-in for the external payment service, used for
// local runs and end-to-end tests.
package mockpay

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Decider picks the outcome of a charge.
type Decider interface {
	Approve(amount decimal.Decimal) bool
}

// RandomDecider approves a charge with probability Rate (0..1).
type RandomDecider struct {
	Rate float64
}

func (d RandomDecider) Approve(decimal.Decimal) bool {
	return rand.Float64() < d.Rate
}

// FixedDecider always returns the same answer.
type FixedDecider bool

func (d FixedDecider) Approve(decimal.Decimal) bool { return bool(d) }

var (
	cardNumberRe = regexp.MustCompile(`^[0-9]{13,19}$`)
	cvvRe        = regexp.MustCompile(`^[0-9]{3,4}$`)
	expiryRe     = regexp.MustCompile(`^(0[1-9]|1[0-2])/([0-9]{2})$`)
)

type charge struct {
	accountRef string
	amount     decimal.Decimal
	refunded   bool
}

type Server struct {
	decider Decider
	now     func() time.Time

	mu       sync.Mutex
	accounts map[string]string // account ref -> last 4 digits
	charges  map[string]*charge
}

func NewServer(decider Decider) *Server {
	return &Server{
		decider:  decider,
		now:      time.Now,
		accounts: make(map[string]string),
		charges:  make(map[string]*charge),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/cards/validate", s.validate)
	r.Post("/payments", s.charge)
	r.Post("/payments/{externalRef}/refund", s.refund)
	return r
}

type validateRequest struct {
	CardNumber     string `json:"card_number"`
	HolderName     string `json:"holder_name"`
	ExpirationDate string `json:"expiration_date"`
	CVV            string `json:"cvv"`
}

func (s *Server) validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if reason := s.checkCard(req); reason != "" {
		writeError(w, http.StatusBadRequest, reason)
		return
	}

	ref := "acc_" + uuid.NewString()
	s.mu.Lock()
	s.accounts[ref] = req.CardNumber[len(req.CardNumber)-4:]
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"account_ref": ref})
}

func (s *Server) checkCard(req validateRequest) string {
	if !cardNumberRe.MatchString(req.CardNumber) {
		return "card number must be 13-19 digits"
	}
	if !cvvRe.MatchString(req.CVV) {
		return "cvv must be 3-4 digits"
	}
	if req.HolderName == "" {
		return "holder name is required"
	}
	m := expiryRe.FindStringSubmatch(req.ExpirationDate)
	if m == nil {
		return "expiration date must be MM/YY"
	}
	month, _ := strconv.Atoi(m[1])
	year, _ := strconv.Atoi(m[2])
	// a card is valid through the last day of its expiry month
	expires := time.Date(2000+year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	if !s.now().Before(expires) {
		return "card expired"
	}
	return ""
}

type chargeRequest struct {
	AccountRef  string          `json:"account_ref"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

func (s *Server) charge(w http.ResponseWriter, r *http.Request) {
	var req chargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, http.StatusUnprocessableEntity, "amount must be positive")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[req.AccountRef]; !ok {
		writeError(w, http.StatusNotFound, "unknown account")
		return
	}
	if !s.decider.Approve(req.Amount) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "declined"})
		return
	}

	ref := fmt.Sprintf("TXN-%s", uuid.NewString())
	s.charges[ref] = &charge{accountRef: req.AccountRef, amount: req.Amount}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved", "external_ref": ref})
}

type refundRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) refund(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "externalRef")
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.charges[ref]
	switch {
	case !ok:
		writeError(w, http.StatusNotFound, "unknown charge")
	case c.refunded:
		// refunds are idempotent per charge
		writeJSON(w, http.StatusOK, map[string]string{"status": "refunded"})
	case req.Amount.GreaterThan(c.amount):
		writeError(w, http.StatusUnprocessableEntity, "refund exceeds charge")
	default:
		c.refunded = true
		writeJSON(w, http.StatusOK, map[string]string{"status": "refunded"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
