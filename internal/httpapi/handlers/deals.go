package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/carverlabs/dealpilot/internal/common"
	"github.com/carverlabs/dealpilot/internal/deal"
)

type createDealReq struct {
	Make        string  `json:"make"`
	Model       string  `json:"model"`
	Year        int     `json:"year"`
	Mileage     int     `json:"mileage"`
	AskingPrice float64 `json:"asking_price"`
	Notes       string  `json:"notes"`
}

func (h *Handler) CreateDeal(c *gin.Context) {
	var req createDealReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Make == "" || req.Model == "" {
		common.Fail(c, http.StatusBadRequest, 10011, "make and model required")
		return
	}
	if req.Year < 1900 || req.Year > time.Now().Year()+1 {
		common.Fail(c, http.StatusBadRequest, 10012, "invalid year")
		return
	}
	if req.AskingPrice <= 0 {
		common.Fail(c, http.StatusBadRequest, 10013, "asking_price must be positive")
		return
	}

	d := deal.Deal{
		UserID:      currentUserID(c),
		Make:        req.Make,
		Model:       req.Model,
		Year:        req.Year,
		Mileage:     req.Mileage,
		AskingPrice: req.AskingPrice,
		Status:      "listed",
		Notes:       req.Notes,
	}
	if err := h.Deals.Create(c.Request.Context(), &d); err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, d)
}

func (h *Handler) ListDeals(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	deals, err := h.Deals.ListByUser(c.Request.Context(), currentUserID(c), limit)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"deals": deals})
}

func (h *Handler) GetDeal(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10014, "invalid deal id")
		return
	}

	d, err := h.Deals.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40403, "deal not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	// hide other users' listings
	if d.UserID != currentUserID(c) {
		common.Fail(c, http.StatusNotFound, 40403, "deal not found")
		return
	}
	common.OK(c, d)
}
