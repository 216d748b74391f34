package server

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"

	"loanforge/crypto"
	"loanforge/native/loan"
	"loanforge/observability/loanmetrics"
	"loanforge/services/loand/auth"
)

// withLoan loads, locks, and (on success) persists the loan named by the
// {id} path parameter around fn, the same load-mutate-save shape every
// mutating handler in this package follows.
func (s *Server) withLoan(w http.ResponseWriter, r *http.Request, fn func(l *loan.Loan, self, caller crypto.Address, engine *loan.Engine) error) {
	loanID := chi.URLParam(r, "id")
	unlock := s.store.Lock(loanID)
	defer unlock()

	l, self, err := s.loadLoan(loanID)
	if err != nil {
		logServerError(loanID, "", err)
		writeError(w, err)
		return
	}

	caller := auth.Caller(r.Context())
	if err := fn(l, self, caller, s.engineFor(self)); err != nil {
		logServerError(loanID, caller.String(), err)
		writeError(w, err)
		return
	}

	if err := s.store.PutLoan(loanID, l); err != nil {
		logServerError(loanID, caller.String(), err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan.GetLoanDetails(l))
}

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errMissingAmount
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errMissingAmount
	}
	return nil
}

func parseAddress(s string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(s)
	if err != nil {
		return crypto.Address{}, errMissingAmount
	}
	return addr, nil
}

var errMalformedRefinance = errors.New("loand: malformed refinance request")

func decodeRefinance(req refinanceRequest) (crypto.Address, []loan.Call, error) {
	refinancer, err := crypto.DecodeAddress(req.Refinancer)
	if err != nil {
		return crypto.Address{}, nil, errMalformedRefinance
	}
	calls := make([]loan.Call, 0, len(req.Calls))
	for _, c := range req.Calls {
		amt, ok := new(big.Int).SetString(c.Amount, 10)
		if !ok {
			return crypto.Address{}, nil, errMalformedRefinance
		}
		calls = append(calls, loan.Call{Op: loan.MutatorOp(c.Op), Amount: amt})
	}
	return refinancer, calls, nil
}

func (s *Server) getLoan(w http.ResponseWriter, r *http.Request) {
	loanID := chi.URLParam(r, "id")
	l, err := s.store.GetLoan(loanID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan.GetLoanDetails(l))
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	loanID := chi.URLParam(r, "id")
	l, err := s.store.GetLoan(loanID)
	if err != nil {
		writeError(w, err)
		return
	}
	now := s.now()
	nextPrincipal, nextInterest := loan.GetNextPaymentBreakdown(l, now)
	closingPrincipal, closingInterest := loan.GetClosingPaymentBreakdown(l)
	writeJSON(w, http.StatusOK, map[string]string{
		"nextPaymentPrincipal":    nextPrincipal.String(),
		"nextPaymentInterest":     nextInterest.String(),
		"closingPaymentPrincipal": closingPrincipal.String(),
		"closingPaymentInterest":  closingInterest.String(),
	})
}

func (s *Server) fundLoan(w http.ResponseWriter, r *http.Request) {
	s.withLoan(w, r, func(l *loan.Loan, self, caller crypto.Address, engine *loan.Engine) error {
		return engine.FundLoan(l, self, s.now(), caller, s.fees)
	})
}

func (s *Server) postCollateral(w http.ResponseWriter, r *http.Request) {
	s.withLoan(w, r, func(l *loan.Loan, self, caller crypto.Address, engine *loan.Engine) error {
		return engine.PostCollateral(l, self)
	})
}

func (s *Server) removeCollateral(w http.ResponseWriter, r *http.Request) {
	amount, err := parseAmount(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.withLoan(w, r, func(l *loan.Loan, self, caller crypto.Address, engine *loan.Engine) error {
		return engine.RemoveCollateral(l, caller, caller, amount)
	})
}

func (s *Server) drawdownFunds(w http.ResponseWriter, r *http.Request) {
	amount, err := parseAmount(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.withLoan(w, r, func(l *loan.Loan, self, caller crypto.Address, engine *loan.Engine) error {
		return engine.DrawdownFunds(l, caller, caller, amount)
	})
}

func (s *Server) returnFunds(w http.ResponseWriter, r *http.Request) {
	s.withLoan(w, r, func(l *loan.Loan, self, caller crypto.Address, engine *loan.Engine) error {
		return engine.ReturnFunds(l, self)
	})
}

func (s *Server) makePayment(w http.ResponseWriter, r *http.Request) {
	s.withLoan(w, r, func(l *loan.Loan, self, caller crypto.Address, engine *loan.Engine) error {
		if err := engine.MakePayment(l, self, s.now()); err != nil {
			return err
		}
		loanmetrics.Get().RecordPayment(r.Context(), l.FundsAsset.String())
		return nil
	})
}

func (s *Server) closeLoan(w http.ResponseWriter, r *http.Request) {
	s.withLoan(w, r, func(l *loan.Loan, self, caller crypto.Address, engine *loan.Engine) error {
		return engine.CloseLoan(l, self, s.now())
	})
}

func (s *Server) claimFunds(w http.ResponseWriter, r *http.Request) {
	amount, err := parseAmount(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.withLoan(w, r, func(l *loan.Loan, self, caller crypto.Address, engine *loan.Engine) error {
		return engine.ClaimFunds(l, caller, caller, amount)
	})
}

func (s *Server) repossess(w http.ResponseWriter, r *http.Request) {
	s.withLoan(w, r, func(l *loan.Loan, self, caller crypto.Address, engine *loan.Engine) error {
		collateralAsset := l.CollateralAsset.String()
		if err := engine.Repossess(l, caller, caller, self, s.now()); err != nil {
			return err
		}
		loanmetrics.Get().RecordRepossession(r.Context(), collateralAsset)
		return nil
	})
}

func (s *Server) skim(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.withLoan(w, r, func(l *loan.Loan, self, caller crypto.Address, engine *loan.Engine) error {
		token, err := parseAddress(req.Token)
		if err != nil {
			return err
		}
		return engine.Skim(l, caller, token, caller, self)
	})
}

func (s *Server) setBorrower(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NewBorrower string `json:"newBorrower"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.withLoan(w, r, func(l *loan.Loan, self, caller crypto.Address, engine *loan.Engine) error {
		newBorrower, err := parseAddress(req.NewBorrower)
		if err != nil {
			return err
		}
		return engine.SetBorrower(l, caller, newBorrower)
	})
}

func (s *Server) setLender(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NewLender string `json:"newLender"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.withLoan(w, r, func(l *loan.Loan, self, caller crypto.Address, engine *loan.Engine) error {
		newLender, err := parseAddress(req.NewLender)
		if err != nil {
			return err
		}
		return engine.SetLender(l, caller, newLender)
	})
}

type refinanceCall struct {
	Op     uint8  `json:"op"`
	Amount string `json:"amount"`
}

type refinanceRequest struct {
	Refinancer string          `json:"refinancer"`
	Calls      []refinanceCall `json:"calls"`
}

func (s *Server) proposeNewTerms(w http.ResponseWriter, r *http.Request) {
	var req refinanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.withLoan(w, r, func(l *loan.Loan, self, caller crypto.Address, engine *loan.Engine) error {
		refinancer, calls, err := decodeRefinance(req)
		if err != nil {
			return err
		}
		return engine.ProposeNewTerms(l, caller, refinancer, calls)
	})
}

func (s *Server) acceptNewTerms(w http.ResponseWriter, r *http.Request) {
	var req refinanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.withLoan(w, r, func(l *loan.Loan, self, caller crypto.Address, engine *loan.Engine) error {
		refinancer, calls, err := decodeRefinance(req)
		if err != nil {
			return err
		}
		if err := engine.AcceptNewTerms(l, caller, self, refinancer, calls); err != nil {
			return err
		}
		loanmetrics.Get().RecordRefinanceAccepted()
		return nil
	})
}
