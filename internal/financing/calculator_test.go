package financing

import (
	"errors"
	"math"
	"testing"
)

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestMonthlyPayment_ZeroRate(t *testing.T) {
	got := MonthlyPayment(12000, 0, 60)
	want := 12000.0 / 60
	if !almostEqual(got, want, 1e-9) {
		t.Fatalf("zero-rate payment: got %v want %v", got, want)
	}
}

func TestMonthlyPayment_Invalid(t *testing.T) {
	if got := MonthlyPayment(0, 0.05, 60); got != 0 {
		t.Fatalf("expected 0 for zero principal, got %v", got)
	}
	if got := MonthlyPayment(10000, 0.05, 0); got != 0 {
		t.Fatalf("expected 0 for zero term, got %v", got)
	}
}

func TestCalculateLoan_Excellent60Months(t *testing.T) {
	res, err := CalculateLoan(30000, 5000, 60, "excellent", false)
	if err != nil {
		t.Fatalf("calculate loan: %v", err)
	}
	if res.Principal != 25000 {
		t.Fatalf("principal: got %v want 25000", res.Principal)
	}
	if res.APR != 0.049 {
		t.Fatalf("apr: got %v want 0.049", res.APR)
	}
	if !almostEqual(res.MonthlyPayment, 470.64, 0.05) {
		t.Fatalf("monthly payment: got %v want ~470.64", res.MonthlyPayment)
	}
	if res.TotalInterest <= 0 {
		t.Fatalf("total interest should be positive, got %v", res.TotalInterest)
	}
	if !almostEqual(res.TotalPaid, res.Principal+res.TotalInterest, 1e-6) {
		t.Fatalf("total paid %v != principal %v + interest %v", res.TotalPaid, res.Principal, res.TotalInterest)
	}
}

func TestCalculateLoan_Validation(t *testing.T) {
	cases := []struct {
		name    string
		amount  float64
		down    float64
		term    int
		tier    string
		wantErr error
	}{
		{"zero amount", 0, 0, 60, "good", ErrInvalidLoanAmount},
		{"down >= amount", 10000, 10000, 60, "good", ErrInvalidDownPayment},
		{"negative down", 10000, -1, 60, "good", ErrInvalidDownPayment},
		{"zero term", 10000, 0, 0, "good", ErrInvalidTerm},
		{"term too long", 10000, 0, 361, "good", ErrInvalidTerm},
		{"bad tier", 10000, 0, 60, "platinum", ErrInvalidCreditTier},
	}
	for _, tc := range cases {
		if _, err := CalculateLoan(tc.amount, tc.down, tc.term, tc.tier, false); !errors.Is(err, tc.wantErr) {
			t.Fatalf("%s: got err %v, want %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestSchedule_BalanceReachesZero(t *testing.T) {
	principal := 25000.0
	apr := 0.049
	term := 60
	monthly := MonthlyPayment(principal, apr, term)

	sched := Schedule(principal, monthly, apr, term)
	if len(sched) == 0 {
		t.Fatal("empty schedule")
	}

	prev := principal
	for _, row := range sched {
		if row.Balance > prev+1e-9 {
			t.Fatalf("balance increased at month %d: %v -> %v", row.Month, prev, row.Balance)
		}
		if !almostEqual(row.Payment, row.Principal+row.Interest, 0.011) {
			t.Fatalf("month %d: payment %v != principal %v + interest %v", row.Month, row.Payment, row.Principal, row.Interest)
		}
		prev = row.Balance
	}

	last := sched[len(sched)-1]
	if last.Balance != 0 {
		t.Fatalf("final balance: got %v want exactly 0", last.Balance)
	}
}

func TestSchedule_ZeroInterest(t *testing.T) {
	sched := Schedule(1200, 100, 0, 12)
	if len(sched) != 12 {
		t.Fatalf("expected 12 rows, got %d", len(sched))
	}
	if sched[11].Balance != 0 {
		t.Fatalf("final balance: got %v want 0", sched[11].Balance)
	}
	for _, row := range sched {
		if row.Interest != 0 {
			t.Fatalf("month %d: expected zero interest, got %v", row.Month, row.Interest)
		}
	}
}

func TestOptionsMenu_FourTerms(t *testing.T) {
	opts := OptionsMenu(19140, "good")
	if len(opts) != 4 {
		t.Fatalf("expected 4 options, got %d", len(opts))
	}
	seen := map[int]bool{}
	for _, o := range opts {
		seen[o.TermMonths] = true
		if !almostEqual(o.DownPayment, 1914, 1e-6) {
			t.Fatalf("down payment: got %v want 1914", o.DownPayment)
		}
		if o.MonthlyPayment <= 0 {
			t.Fatalf("term %d: non-positive monthly payment %v", o.TermMonths, o.MonthlyPayment)
		}
		if o.TotalCost <= o.LoanAmount {
			t.Fatalf("term %d: total cost %v should exceed cash price %v", o.TermMonths, o.TotalCost, o.LoanAmount)
		}
	}
	for _, term := range MenuTerms {
		if !seen[term] {
			t.Fatalf("missing term %d", term)
		}
	}
}

func TestOptionsMenu_BadTierEmpty(t *testing.T) {
	if opts := OptionsMenu(20000, "platinum"); len(opts) != 0 {
		t.Fatalf("expected empty menu for unknown tier, got %d options", len(opts))
	}
}

func TestCashSavings(t *testing.T) {
	price := 20000.0
	opts := OptionsMenu(price, "good")
	s := CashSavings(price, opts)
	if s <= 0 {
		t.Fatalf("cash savings should be positive with interest-bearing terms, got %v", s)
	}
	if CashSavings(price, nil) != 0 {
		t.Fatal("expected zero savings without a menu")
	}
}
