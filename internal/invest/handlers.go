package invest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/yieldvault/internal/fixedpoint"
)

// Handler provides HTTP endpoints for deposit/withdraw quoting and
// submission.
type Handler struct {
	service *Service
}

// NewHandler creates a new invest handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the invest routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/invest/limits", h.Limits)
	r.POST("/invest/deposit/quote", h.QuoteDeposit)
	r.POST("/invest/deposit", h.SubmitDeposit)
	r.POST("/invest/withdraw/quote", h.QuoteWithdraw)
	r.POST("/invest/withdraw", h.SubmitWithdraw)
	r.GET("/invest/operations/:id", h.GetOperation)
	r.GET("/wallets/:address/investment", h.Investment)
	r.GET("/wallets/:address/operations", h.ListOperations)
}

// Limits handles GET /v1/invest/limits
func (h *Handler) Limits(c *gin.Context) {
	v := h.service.Validator()
	cfg := h.service.Config()

	presets := make([]string, 0, 3)
	for _, p := range v.Presets() {
		presets = append(presets, fixedpoint.Display(p))
	}

	c.JSON(http.StatusOK, gin.H{
		"minDeposit":         fixedpoint.Display(cfg.MinDeposit),
		"maxDeposit":         fixedpoint.Display(cfg.MaxDeposit),
		"presets":            presets,
		"withdrawFeeBps":     cfg.FeeRateBps,
		"dailyReturnLowBps":  DailyReturnLowBps,
		"dailyReturnHighBps": DailyReturnHighBps,
		"decimals":           cfg.Decimals,
	})
}

// QuoteDeposit handles POST /v1/invest/deposit/quote
func (h *Handler) QuoteDeposit(c *gin.Context) {
	var req DepositQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	quote, err := h.service.QuoteDeposit(c.Request.Context(), req.WalletAddr, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"quote": quote})
}

// SubmitDeposit handles POST /v1/invest/deposit
func (h *Handler) SubmitDeposit(c *gin.Context) {
	var req SubmitDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	op, err := h.service.SubmitDeposit(c.Request.Context(), req.WalletAddr, req.Amount, req.Ref)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"operation": op})
}

// QuoteWithdraw handles POST /v1/invest/withdraw/quote
func (h *Handler) QuoteWithdraw(c *gin.Context) {
	var req WithdrawQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	mode, ok := ParseWithdrawMode(req.Mode)
	if !ok {
		badRequest(c, "mode must be \"yield\" or \"full\"")
		return
	}

	quote, err := h.service.QuoteWithdraw(c.Request.Context(), req.WalletAddr, mode)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"quote": quote})
}

// SubmitWithdraw handles POST /v1/invest/withdraw
func (h *Handler) SubmitWithdraw(c *gin.Context) {
	var req SubmitWithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	mode, ok := ParseWithdrawMode(req.Mode)
	if !ok {
		badRequest(c, "mode must be \"yield\" or \"full\"")
		return
	}

	op, err := h.service.SubmitWithdraw(c.Request.Context(), req.WalletAddr, mode)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"operation": op})
}

// GetOperation handles GET /v1/invest/operations/:id
func (h *Handler) GetOperation(c *gin.Context) {
	op, err := h.service.store.GetOperation(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrOperationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Operation not found",
			})
			return
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"operation": op})
}

// Investment handles GET /v1/wallets/:address/investment
func (h *Handler) Investment(c *gin.Context) {
	info, err := h.service.Info(c.Request.Context(), c.Param("address"))
	if err != nil {
		writeError(c, err)
		return
	}

	total := info.Principal.Add(info.PendingYield)
	c.JSON(http.StatusOK, gin.H{
		"investment": gin.H{
			"principal":      fixedpoint.Display(info.Principal),
			"pendingYield":   fixedpoint.Display(info.PendingYield),
			"totalAvailable": fixedpoint.Display(total),
			"stats": gin.H{
				"totalBaseYield":      fixedpoint.Display(info.Stats.TotalBaseYield),
				"totalBoostYield":     fixedpoint.Display(info.Stats.TotalBoostYield),
				"totalWithdrawals":    fixedpoint.Display(info.Stats.TotalWithdrawals),
				"userTotalInvestment": fixedpoint.Display(info.Stats.UserTotalInvestment),
			},
		},
	})
}

// ListOperations handles GET /v1/wallets/:address/operations
func (h *Handler) ListOperations(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	ops, err := h.service.Operations(c.Request.Context(), c.Param("address"), limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"operations": ops,
		"count":      len(ops),
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": message,
	})
}

// writeError maps service errors onto HTTP statuses: user-facing rule
// violations are 422, everything else is 500.
func writeError(c *gin.Context, err error) {
	if IsUserError(err) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "invalid_operation",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": err.Error(),
	})
}
