package loan

import "fmt"

// Kind buckets errors into the taxonomy the spec requires: callers branch on
// Kind, humans and logs read Code.
type Kind uint8

const (
	KindAuth Kind = iota
	KindPaused
	KindState
	KindInvariant
	KindArithmetic
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindPaused:
		return "paused"
	case KindState:
		return "state"
	case KindInvariant:
		return "invariant"
	case KindArithmetic:
		return "arithmetic"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

// Error is the single error type every exported loan operation returns. Code
// is a stable, colon-separated MODULE:OP:REASON identifier safe to match on in tests
// and client code; it never changes shape across releases.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg, Err: err}
}

func authError(code, msg string) *Error      { return newError(KindAuth, code, msg, nil) }
func pausedError(code, msg string) *Error    { return newError(KindPaused, code, msg, nil) }
func stateError(code, msg string) *Error     { return newError(KindState, code, msg, nil) }
func invariantError(code, msg string) *Error { return newError(KindInvariant, code, msg, nil) }
func externalError(code, msg string, err error) *Error {
	return newError(KindExternal, code, msg, err)
}

// Sentinel codes referenced from engine.go and refinance.go. The MODULE
// prefix is ML (module loan); the middle segment is the operation the code
// is labelled with. Several codes are shared across operations, so the
// middle segment does not always name the operation that returned the
// error: codeNotBorrower is also returned by RemoveCollateral, SetBorrower
// and proposeNewTerms, codeNotLender by every lender-only operation,
// codeUndercollateralized by RemoveCollateral, DrawdownFunds and
// acceptNewTerms, and codeInsufficientFunds by MakePayment and CloseLoan.
const (
	codeNotBorrower           = "ML:DF:NOT_BORROWER"
	codeNotLender             = "ML:CF:NOT_LENDER"
	codeNotBorrowerOrLender   = "ML:RT:NOT_PARTY"
	codeAlreadyFunded         = "ML:FL:ALREADY_FUNDED"
	codeInsufficientDrawable  = "ML:DF:INSUFFICIENT_DRAWABLE"
	codeInsufficientFunds     = "ML:FL:INSUFFICIENT_FUNDS"
	codeUndercollateralized   = "ML:PC:UNDERCOLLATERALIZED"
	codeNoPaymentDue          = "ML:MP:NOT_ACTIVE"
	codeNotInGrace            = "ML:RP:NOT_IN_DEFAULT"
	codeCommitmentMismatch    = "ML:AT:COMMITMENT_MISMATCH"
	codeNoProposalOutstanding = "ML:AT:NO_PROPOSAL"
	codeZeroAddress           = "ML:SB:ZERO_ADDRESS"
	codeNotInitialized        = "ML:XX:NOT_INITIALIZED"
)
