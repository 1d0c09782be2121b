package ledger

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"smmpanel/pkg/errutil"
	"smmpanel/pkg/middleware"
)

var HandlerModule = fx.Module("ledger.handler",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	v1 := r.Group("/api/v1")

	v1.POST("/deposits", h.CreateDeposit)
	v1.GET("/transactions", h.ListMine)

	v1.GET("/admin/transactions", h.ListPending)
	v1.POST("/transactions/:id/approve", h.Approve)
	v1.POST("/transactions/:id/reject", h.Reject)
	v1.POST("/transactions/:id/refund", h.Refund)
}

func (h *Handler) CreateDeposit(c *gin.Context) {
	userID, err := middleware.UserID(c)
	if err != nil {
		c.Error(err)
		return
	}

	var req CreateDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	row, err := h.service.CreateDeposit(c.Request.Context(), userID, req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, row)
}

func (h *Handler) ListMine(c *gin.Context) {
	userID, err := middleware.UserID(c)
	if err != nil {
		c.Error(err)
		return
	}

	rows, err := h.service.ListByUser(c.Request.Context(), userID, 100)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": rows})
}

func (h *Handler) ListPending(c *gin.Context) {
	rows, err := h.service.ListPending(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": rows})
}

func (h *Handler) Approve(c *gin.Context) {
	row, err := h.service.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, row)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Reject(c *gin.Context) {
	var req reasonRequest
	_ = c.ShouldBindJSON(&req) // body is optional

	row, err := h.service.Reject(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (h *Handler) Refund(c *gin.Context) {
	var req reasonRequest
	_ = c.ShouldBindJSON(&req) // body is optional

	row, err := h.service.Refund(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, row)
}
