package loan

import (
	"math/big"
	"testing"
)

func TestPeriodicRateTruncates(t *testing.T) {
	annual := big.NewInt(100_000_000_000_000_000) // 0.1 scaled by ONE
	got := periodicRate(annual, 86400)
	want := new(big.Int).Mul(annual, big.NewInt(86400))
	want.Quo(want, big.NewInt(SecondsPerYear))
	if got.Cmp(want) != 0 {
		t.Fatalf("periodicRate = %s, want %s", got, want)
	}
}

func TestPeriodicRateZeroInputs(t *testing.T) {
	if got := periodicRate(nil, 86400); got.Sign() != 0 {
		t.Fatalf("expected zero for nil rate, got %s", got)
	}
	if got := periodicRate(big.NewInt(5), 0); got.Sign() != 0 {
		t.Fatalf("expected zero for zero interval, got %s", got)
	}
}

func TestScaledExponentIdentity(t *testing.T) {
	base := new(big.Int).Set(ONE)
	got := scaledExponent(base, 10, ONE)
	if got.Cmp(ONE) != 0 {
		t.Fatalf("exponentiating ONE should stay ONE, got %s", got)
	}
}

func TestScaledExponentZeroExponent(t *testing.T) {
	got := scaledExponent(big.NewInt(12345), 0, ONE)
	if got.Cmp(ONE) != 0 {
		t.Fatalf("zero exponent should return one, got %s", got)
	}
}

func TestScaledExponentMatchesRepeatedMultiplication(t *testing.T) {
	// base = 1.05 * ONE
	base := new(big.Int).Add(ONE, new(big.Int).Quo(ONE, big.NewInt(20)))
	got := scaledExponent(base, 12, ONE)

	// Repeated multiplication of the exact ratio 105/100, truncated once at
	// the end; every intermediate square here is exact at 18 decimals, so
	// square-and-multiply lands on the same value.
	num, den := big.NewInt(1), big.NewInt(1)
	for i := 0; i < 12; i++ {
		num.Mul(num, big.NewInt(105))
		den.Mul(den, big.NewInt(100))
	}
	naive := new(big.Int).Mul(ONE, num)
	naive.Quo(naive, den)
	if got.Cmp(naive) != 0 {
		t.Fatalf("scaledExponent = %s, want %s (naive)", got, naive)
	}
}

func TestInstallmentZeroRateIsStraightLine(t *testing.T) {
	principal := big.NewInt(12000)
	ending := big.NewInt(0)
	rate := big.NewInt(0)

	p, i := installment(principal, ending, rate, 2592000, 12)
	if i.Sign() != 0 {
		t.Fatalf("expected zero interest at zero rate, got %s", i)
	}
	if p.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected straight-line principal of 1000, got %s", p)
	}
}

func TestInstallmentPositiveRateProducesPositiveInterest(t *testing.T) {
	principal := big.NewInt(1_000_000)
	ending := big.NewInt(0)
	rate := big.NewInt(100_000_000_000_000_000) // 10% annualized
	p, i := installment(principal, ending, rate, 2592000, 12)

	if i.Sign() <= 0 {
		t.Fatalf("expected positive interest, got %s", i)
	}
	if p.Sign() <= 0 {
		t.Fatalf("expected positive principal portion, got %s", p)
	}
	if new(big.Int).Add(p, i).Cmp(principal) > 0 {
		t.Fatalf("single installment should not exceed total principal")
	}
}

func TestInstallmentZeroPaymentsRemaining(t *testing.T) {
	p, i := installment(big.NewInt(100), big.NewInt(0), big.NewInt(1), 86400, 0)
	if p.Sign() != 0 || i.Sign() != 0 {
		t.Fatalf("expected zero breakdown when n=0, got p=%s i=%s", p, i)
	}
}
