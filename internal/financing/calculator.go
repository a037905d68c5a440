// Package financing implements amortized loan math for negotiation payloads.
// Everything here is pure: no I/O, no clocks, no shared state.
package financing

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidLoanAmount  = errors.New("loan amount must be positive")
	ErrInvalidDownPayment = errors.New("down payment must be >= 0 and below the loan amount")
	ErrInvalidTerm        = errors.New("term must be between 1 and 360 months")
	ErrInvalidCreditTier  = errors.New("unknown credit tier")
)

// APR midpoints per credit tier.
var tierAPR = map[string]float64{
	"excellent": 0.049,
	"good":      0.074,
	"fair":      0.104,
	"poor":      0.134,
}

// MenuTerms are the loan terms offered in a financing menu.
var MenuTerms = []int{36, 48, 60, 72}

const menuDownPaymentRate = 0.10

type ScheduleEntry struct {
	Month     int     `json:"month"`
	Payment   float64 `json:"payment"`
	Principal float64 `json:"principal"`
	Interest  float64 `json:"interest"`
	Balance   float64 `json:"balance"`
}

type LoanResult struct {
	LoanAmount     float64         `json:"loan_amount"`
	DownPayment    float64         `json:"down_payment"`
	Principal      float64         `json:"principal"`
	APR            float64         `json:"apr"`
	TermMonths     int             `json:"term_months"`
	MonthlyPayment float64         `json:"monthly_payment"`
	TotalPaid      float64         `json:"total_paid"`
	TotalInterest  float64         `json:"total_interest"`
	Schedule       []ScheduleEntry `json:"schedule,omitempty"`
}

// Option is one entry of a financing menu attached to a negotiation turn.
type Option struct {
	LoanAmount     float64 `json:"loan_amount"`
	DownPayment    float64 `json:"down_payment"`
	MonthlyPayment float64 `json:"monthly_payment"`
	TermMonths     int     `json:"term_months"`
	APR            float64 `json:"apr"`
	TotalCost      float64 `json:"total_cost"`
	TotalInterest  float64 `json:"total_interest"`
}

// MonthlyPayment computes the standard amortized payment
// M = P*r*(1+r)^n / ((1+r)^n - 1) with r = annualRate/12.
func MonthlyPayment(principal, annualRate float64, termMonths int) float64 {
	if principal <= 0 || termMonths <= 0 {
		return 0
	}
	r := annualRate / 12
	if r == 0 {
		return principal / float64(termMonths)
	}
	pow := math.Pow(1+r, float64(termMonths))
	denom := pow - 1
	if denom == 0 {
		return principal / float64(termMonths)
	}
	return principal * r * pow / denom
}

// Schedule builds the month-by-month ledger. The ledger runs on decimals so
// the final balance lands on exactly zero: the last row takes the remaining
// balance as its principal and recomputes its payment to absorb rounding.
func Schedule(principal, monthlyPayment, annualRate float64, termMonths int) []ScheduleEntry {
	if principal <= 0 || termMonths <= 0 {
		return nil
	}

	monthlyRate := decimal.NewFromFloat(annualRate).Div(decimal.NewFromInt(12))
	balance := decimal.NewFromFloat(principal).Round(2)
	payment := decimal.NewFromFloat(monthlyPayment).Round(2)
	cent := decimal.NewFromFloat(0.01)

	entries := make([]ScheduleEntry, 0, termMonths)
	for month := 1; month <= termMonths; month++ {
		if balance.Sign() <= 0 {
			break
		}
		interest := balance.Mul(monthlyRate).Round(2)
		principalPart := payment.Sub(interest)
		rowPayment := payment

		if month == termMonths || principalPart.GreaterThanOrEqual(balance) {
			// Final row: pay off whatever is left.
			principalPart = balance
			rowPayment = principalPart.Add(interest)
		}

		balance = balance.Sub(principalPart)
		if balance.LessThan(cent) {
			balance = decimal.Zero
		}

		entries = append(entries, ScheduleEntry{
			Month:     month,
			Payment:   rowPayment.InexactFloat64(),
			Principal: principalPart.InexactFloat64(),
			Interest:  interest.InexactFloat64(),
			Balance:   balance.InexactFloat64(),
		})
	}
	return entries
}

// CalculateLoan validates the inputs, maps the credit tier to its APR and
// returns the full loan breakdown.
func CalculateLoan(loanAmount, downPayment float64, termMonths int, creditTier string, includeSchedule bool) (*LoanResult, error) {
	if loanAmount <= 0 {
		return nil, fmt.Errorf("%w: %.2f", ErrInvalidLoanAmount, loanAmount)
	}
	if downPayment < 0 || downPayment >= loanAmount {
		return nil, fmt.Errorf("%w: %.2f", ErrInvalidDownPayment, downPayment)
	}
	if termMonths <= 0 || termMonths > 360 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTerm, termMonths)
	}
	apr, ok := tierAPR[creditTier]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCreditTier, creditTier)
	}

	principal := loanAmount - downPayment
	monthly := MonthlyPayment(principal, apr, termMonths)
	totalPaid := monthly * float64(termMonths)

	res := &LoanResult{
		LoanAmount:     loanAmount,
		DownPayment:    downPayment,
		Principal:      principal,
		APR:            apr,
		TermMonths:     termMonths,
		MonthlyPayment: monthly,
		TotalPaid:      totalPaid,
		TotalInterest:  totalPaid - principal,
	}
	if includeSchedule {
		res.Schedule = Schedule(principal, monthly, apr, termMonths)
	}
	return res, nil
}

// OptionsMenu returns one Option per menu term at a fixed 10% down payment.
// Terms that fail validation are skipped; they never fail the menu.
func OptionsMenu(price float64, creditTier string) []Option {
	if creditTier == "" {
		creditTier = "good"
	}
	down := price * menuDownPaymentRate

	opts := make([]Option, 0, len(MenuTerms))
	for _, term := range MenuTerms {
		res, err := CalculateLoan(price, down, term, creditTier, false)
		if err != nil {
			continue
		}
		opts = append(opts, Option{
			LoanAmount:     price,
			DownPayment:    down,
			MonthlyPayment: res.MonthlyPayment,
			TermMonths:     term,
			APR:            res.APR,
			TotalCost:      down + res.TotalPaid,
			TotalInterest:  res.TotalInterest,
		})
	}
	return opts
}

// CashSavings is what paying cash saves versus the 60-month financed total.
// Zero when the menu has no 60-month entry.
func CashSavings(price float64, opts []Option) float64 {
	for _, o := range opts {
		if o.TermMonths == 60 {
			return o.TotalCost - price
		}
	}
	return 0
}
