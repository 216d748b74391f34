// Package server implements the HTTP surface for a single loanforge loand
// instance: one handler per native/loan lifecycle and refinance operation,
// plus the read-only view projections, built on go-chi the same way
// services/otc-gateway/server wires its own REST API.
package server

import (
	"crypto/sha256"
	"encoding/json"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"loanforge/core/events"
	"loanforge/crypto"
	"loanforge/native/loan"
	"loanforge/services/loand/auth"
	"loanforge/storage/loanstore"
)

// Config captures the dependencies required to construct a Server.
type Config struct {
	Store   *loanstore.Store
	Fees    loan.LenderFeeView
	Pauses  loan.PauseView
	Emitter events.Emitter
	Auth    auth.Config
	// Now overrides the clock used to stamp operations; defaults to the
	// wall clock truncated to seconds. Tests supply a fixed value.
	Now func() uint64
}

// Server wires native/loan's Engine to HTTP handlers backed by a
// storage/loanstore.Store. Every handler builds its own *loan.Engine scoped
// to the loan's custody address rather than sharing one across requests, so
// two different loans being handled concurrently never race over a shared
// driver field.
type Server struct {
	store   *loanstore.Store
	pauses  loan.PauseView
	emitter events.Emitter
	authn   *auth.Authenticator
	fees    loan.LenderFeeView
	now     func() uint64
	router  http.Handler
}

// New constructs a configured Server.
func New(cfg Config) *Server {
	s := &Server{
		store:   cfg.Store,
		pauses:  cfg.Pauses,
		emitter: cfg.Emitter,
		fees:    cfg.Fees,
		authn:   auth.NewAuthenticator(cfg.Auth),
		now:     cfg.Now,
	}
	if s.now == nil {
		s.now = func() uint64 { return uint64(time.Now().Unix()) }
	}
	s.router = s.buildRouter()
	return s
}

// engineFor builds an Engine whose driver settles transfers against self,
// the loan's own custody address.
func (s *Server) engineFor(self crypto.Address) *loan.Engine {
	return loan.NewEngine(s.store.NewDriver(self), s.pauses, s.emitter)
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(s.authn.Middleware)

	r.Route("/loans/{id}", func(lr chi.Router) {
		lr.Get("/", s.getLoan)
		lr.Get("/schedule", s.getSchedule)
		lr.Post("/fund", s.fundLoan)
		lr.Post("/collateral", s.postCollateral)
		lr.Post("/collateral/remove", s.removeCollateral)
		lr.Post("/drawdown", s.drawdownFunds)
		lr.Post("/funds/return", s.returnFunds)
		lr.Post("/payment", s.makePayment)
		lr.Post("/close", s.closeLoan)
		lr.Post("/claim", s.claimFunds)
		lr.Post("/repossess", s.repossess)
		lr.Post("/skim", s.skim)
		lr.Post("/borrower", s.setBorrower)
		lr.Post("/lender", s.setLender)
		lr.Post("/refinance/propose", s.proposeNewTerms)
		lr.Post("/refinance/accept", s.acceptNewTerms)
	})

	return r
}

// custodyAddress derives a deterministic 20-byte custody address for a loan
// ID: the loan's own balance in storage/loanstore is keyed under this
// address, standing in for the contract-address-as-custodian idiom the
// source language expresses natively.
func custodyAddress(loanID string) crypto.Address {
	digest := sha256.Sum256([]byte(loanID))
	return crypto.MustNewAddress(crypto.NHBPrefix, digest[:20])
}

func (s *Server) loadLoan(loanID string) (*loan.Loan, crypto.Address, error) {
	l, err := s.store.GetLoan(loanID)
	if err != nil {
		return nil, crypto.Address{}, err
	}
	return l, custodyAddress(loanID), nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, toStatus(err), map[string]string{"error": err.Error()})
}

type amountRequest struct {
	Amount string `json:"amount"`
}

func parseAmount(r *http.Request) (*big.Int, error) {
	var req amountRequest
	if r.Body == nil {
		return nil, errMissingAmount
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errMissingAmount
	}
	amt, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		return nil, errMissingAmount
	}
	return amt, nil
}
