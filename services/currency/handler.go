package currency

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"smmpanel/pkg/errutil"
)

var HandlerModule = fx.Module("currency.handler",
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

	v1.GET("/rates", h.List)
	v1.PUT("/rates/:code", h.Set)
}

func (h *Handler) List(c *gin.Context) {
	rates, err := h.service.List(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"settlement_currency": h.service.Settlement(),
		"rates":               rates,
	})
}

type setRateRequest struct {
	Rate float64 `json:"rate" binding:"required"`
}

func (h *Handler) Set(c *gin.Context) {
	var req setRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}
	if req.Rate <= 0 {
		c.Error(errutil.ValidationFailed("rate must be positive"))
		return
	}

	code := strings.ToUpper(strings.TrimSpace(c.Param("code")))
	if code == "" {
		c.Error(errutil.ValidationFailed("currency code is required"))
		return
	}

	if err := h.service.SetRate(c.Request.Context(), code, req.Rate); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": code, "rate": req.Rate})
}
