package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/carverlabs/dealpilot/internal/common"
	"github.com/carverlabs/dealpilot/internal/financing"
)

type financingReq struct {
	LoanAmount      float64 `json:"loan_amount"`
	DownPayment     float64 `json:"down_payment"`
	TermMonths      int     `json:"term_months"`
	CreditTier      string  `json:"credit_tier"`
	IncludeSchedule bool    `json:"include_schedule"`
}

func (h *Handler) CalculateFinancing(c *gin.Context) {
	var req financingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.CreditTier == "" {
		req.CreditTier = "good"
	}

	res, err := financing.CalculateLoan(req.LoanAmount, req.DownPayment, req.TermMonths, req.CreditTier, req.IncludeSchedule)
	if err != nil {
		if errors.Is(err, financing.ErrInvalidLoanAmount) ||
			errors.Is(err, financing.ErrInvalidDownPayment) ||
			errors.Is(err, financing.ErrInvalidTerm) ||
			errors.Is(err, financing.ErrInvalidCreditTier) {
			common.Fail(c, http.StatusBadRequest, 10041, err.Error())
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "internal error")
		return
	}
	common.OK(c, res)
}
