package decision

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/perzequiel/gerald-gateway/internal/bank"
	"github.com/perzequiel/gerald-gateway/internal/idgen"
	"github.com/perzequiel/gerald-gateway/internal/logging"
)

// HistoryLimit caps GET /v1/decision/history results.
const HistoryLimit = 10

// Handler provides HTTP endpoints for decisions and plans.
type Handler struct {
	service *Service
}

// NewHandler creates a new decision handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the decision routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/decision", h.Decide)
	r.GET("/decision/history", h.History)
	r.GET("/plan/:plan_id", h.GetPlan)
}

// Decide handles POST /v1/decision.
func (h *Handler) Decide(c *gin.Context) {
	var req DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	// The request-ID middleware already assigned and echoed an ID; reuse
	// it so the idempotency key matches what the client saw.
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = logging.RequestID(c.Request.Context())
	}
	if requestID == "" {
		requestID = idgen.New()
	}

	d, err := h.service.Decide(c.Request.Context(), req.UserID, req.AmountRequestedCents, requestID)
	if err != nil {
		if errors.Is(err, bank.ErrBankUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "bank_api_error",
				"message": err.Error(),
			})
			return
		}
		logging.L(c.Request.Context()).Error("decision failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "persistence_error",
			"message": "decision could not be recorded",
		})
		return
	}

	resp := DecideResponse{
		Approved:           d.Approved,
		CreditLimitCents:   d.CreditLimitCents,
		AmountGrantedCents: d.AmountGrantedCents,
	}
	if d.Plan != nil {
		resp.PlanID = d.Plan.ID
	}
	c.JSON(http.StatusOK, resp)
}

// History handles GET /v1/decision/history?user_id=…
func (h *Handler) History(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "user_id query parameter is required",
		})
		return
	}

	decisions, err := h.service.History(c.Request.Context(), userID, HistoryLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	if decisions == nil {
		decisions = []*Decision{}
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":   userID,
		"decisions": decisions,
	})
}

// GetPlan handles GET /v1/plan/:plan_id
func (h *Handler) GetPlan(c *gin.Context) {
	plan, err := h.service.GetPlan(c.Request.Context(), c.Param("plan_id"))
	if err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "plan not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, plan)
}
