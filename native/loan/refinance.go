package loan

import (
	"encoding/binary"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"loanforge/crypto"
)

// MutatorOp enumerates the small, closed set of parameter mutations a
// refinance proposal may apply. Refinance calls are modeled as a tagged
// variant rather than dynamic dispatch so the commitment hash and the
// replay step operate over the same closed, serializable alphabet.
type MutatorOp uint8

const (
	OpDecreasePrincipal MutatorOp = iota
	OpIncreasePrincipal
	OpSetClosingRate
	OpSetCollateralRequired
	OpSetEndingPrincipal
	OpSetGracePeriod
	OpSetInterestRate
	OpSetPaymentInterval
	OpSetPaymentsRemaining
)

// Call is one mutation in an ordered refinance proposal. Amount carries the
// operand for every op; ops that take a duration or count stash it in
// Amount as well, since every field in Terms is representable as a
// *big.Int or uint64 cast.
type Call struct {
	Op     MutatorOp
	Amount *big.Int
}

// Refinancer identifies the party proposing the new terms, carried through
// the commitment hash so replays cannot be redirected to a different
// counterpart's proposal.
type Refinancer = crypto.Address

// commitmentHash canonically encodes (refinancer, calls) and hashes it with
// Keccak256. The encoding is append-only and length-prefixed so no two
// distinct (refinancer, calls) pairs can collide by field-boundary
// ambiguity.
func commitmentHash(refinancer Refinancer, calls []Call) [32]byte {
	buf := make([]byte, 0, 32+8+len(calls)*40)
	buf = append(buf, refinancer.Bytes()...)

	var countBuf [8]byte
	binary.BigEndian.PutUint64(countBuf[:], uint64(len(calls)))
	buf = append(buf, countBuf[:]...)

	for _, c := range calls {
		buf = append(buf, byte(c.Op))
		amt := c.Amount
		if amt == nil {
			amt = big.NewInt(0)
		}
		amtBytes := amt.Bytes()
		var lenBuf [8]byte
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(amtBytes)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, amtBytes...)
	}

	return ethcrypto.Keccak256Hash(buf)
}

// proposeNewTerms is the borrower-only first phase: it commits to a
// (refinancer, calls) pair without applying it. An empty call set clears
// any outstanding proposal (I6).
func (l *Loan) proposeNewTerms(caller crypto.Address, refinancer Refinancer, calls []Call) error {
	if !addressEqual(caller, l.Borrower) {
		return authError(codeNotBorrower, "caller is not the borrower")
	}
	if len(calls) == 0 {
		l.RefinanceCommitment = [32]byte{}
		return nil
	}
	l.RefinanceCommitment = commitmentHash(refinancer, calls)
	return nil
}

// acceptNewTerms is the lender-only second phase: it requires the supplied
// (refinancer, calls) to hash-match the outstanding commitment, replays
// every call in order, and re-checks I3 before clearing the commitment. If
// any call fails, no mutation is retained. driver/self are threaded through
// to applyMutator so OpIncreasePrincipal can verify unaccounted fundsAsset
// backing before minting drawable principal (I4).
func (l *Loan) acceptNewTerms(driver AssetDriver, self, caller crypto.Address, refinancer Refinancer, calls []Call) error {
	if !addressEqual(caller, l.Lender) {
		return authError(codeNotLender, "caller is not the lender")
	}
	if l.RefinanceCommitment == ([32]byte{}) {
		return stateError(codeNoProposalOutstanding, "no refinance proposal outstanding")
	}
	if commitmentHash(refinancer, calls) != l.RefinanceCommitment {
		return stateError(codeCommitmentMismatch, "refinance commitment does not match supplied calls")
	}

	staged := l.Terms.Clone()
	stagedPrincipal := new(big.Int).Set(l.Principal)
	stagedDrawable := new(big.Int).Set(l.DrawableFunds)
	stagedPaymentsRemaining := l.PaymentsRemaining

	// unaccountedFunds is computed lazily, at most once, the first time a
	// call actually needs it. It is decremented in place as successive
	// OpIncreasePrincipal calls within the same proposal consume it, so one
	// surplus cannot back two increases.
	var unaccountedFunds *big.Int
	for _, c := range calls {
		if c.Op == OpIncreasePrincipal && unaccountedFunds == nil {
			surplus, err := l.unaccounted(driver, self, l.FundsAsset)
			if err != nil {
				return err
			}
			unaccountedFunds = surplus
		}
		if err := applyMutator(&staged, &stagedPrincipal, &stagedDrawable, &stagedPaymentsRemaining, unaccountedFunds, c); err != nil {
			return err
		}
	}

	required := requiredCollateralFor(stagedPrincipal, stagedDrawable, staged.PrincipalRequested, staged.CollateralRequired)
	if l.Collateral.Cmp(required) < 0 {
		return invariantError(codeUndercollateralized, "refinance would leave loan undercollateralized")
	}

	l.Terms = staged
	l.Principal = stagedPrincipal
	l.DrawableFunds = stagedDrawable
	l.PaymentsRemaining = stagedPaymentsRemaining
	l.RefinanceCommitment = [32]byte{}
	return nil
}

// applyMutator applies one refinance call to the staged terms/principal/
// drawable/paymentsRemaining. unaccountedFunds is the running unclaimed
// fundsAsset surplus available to back an OpIncreasePrincipal; it is nil
// when no call in the batch needs it.
func applyMutator(terms *Terms, principal, drawable **big.Int, paymentsRemaining *uint64, unaccountedFunds *big.Int, c Call) error {
	amt := c.Amount
	if amt == nil {
		amt = big.NewInt(0)
	}

	switch c.Op {
	case OpDecreasePrincipal:
		if (*drawable).Cmp(amt) < 0 {
			return invariantError("ML:AT:INSUFFICIENT_DRAWABLE_FOR_DECREASE", "drawableFunds below decrease amount")
		}
		*principal = new(big.Int).Sub(*principal, amt)
		terms.PrincipalRequested = new(big.Int).Sub(terms.PrincipalRequested, amt)
		*drawable = new(big.Int).Sub(*drawable, amt)
		if (*principal).Cmp(terms.EndingPrincipal) < 0 {
			return invariantError("ML:AT:PRINCIPAL_BELOW_ENDING", "principal would fall below endingPrincipal")
		}
	case OpIncreasePrincipal:
		if unaccountedFunds == nil || unaccountedFunds.Cmp(amt) < 0 {
			return invariantError("ML:AT:INSUFFICIENT_UNACCOUNTED_FOR_INCREASE", "unaccounted fundsAsset below increase amount")
		}
		unaccountedFunds.Sub(unaccountedFunds, amt)
		*principal = new(big.Int).Add(*principal, amt)
		terms.PrincipalRequested = new(big.Int).Add(terms.PrincipalRequested, amt)
		*drawable = new(big.Int).Add(*drawable, amt)
	case OpSetClosingRate:
		terms.ClosingRate = amt
	case OpSetCollateralRequired:
		terms.CollateralRequired = amt
	case OpSetEndingPrincipal:
		if amt.Cmp(*principal) > 0 {
			return invariantError("ML:AT:ENDING_PRINCIPAL_EXCEEDS_PRINCIPAL", "endingPrincipal would exceed principal")
		}
		terms.EndingPrincipal = amt
	case OpSetGracePeriod:
		terms.GracePeriod = amt.Uint64()
	case OpSetInterestRate:
		terms.InterestRate = amt
	case OpSetPaymentInterval:
		terms.PaymentInterval = amt.Uint64()
	case OpSetPaymentsRemaining:
		*paymentsRemaining = amt.Uint64()
	default:
		return invariantError("ML:AT:UNKNOWN_MUTATOR", "unknown mutator op")
	}
	return nil
}
