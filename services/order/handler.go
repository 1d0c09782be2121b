package order

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"smmpanel/pkg/errutil"
	"smmpanel/pkg/middleware"
)

var HandlerModule = fx.Module("order.handler",
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

	v1.POST("/orders", h.Create)
	v1.GET("/orders", h.List)
	v1.GET("/orders/:id", h.Get)
	v1.POST("/orders/:id/cancel", h.Cancel)
	v1.POST("/orders/:id/refill", h.Refill)
}

func (h *Handler) Create(c *gin.Context) {
	userID, err := middleware.UserID(c)
	if err != nil {
		c.Error(err)
		return
	}

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	row, err := h.service.Create(c.Request.Context(), userID, req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, row)
}

func (h *Handler) List(c *gin.Context) {
	userID, err := middleware.UserID(c)
	if err != nil {
		c.Error(err)
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	rows, err := h.service.ListMine(c.Request.Context(), userID, limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": rows})
}

func (h *Handler) Get(c *gin.Context) {
	userID, err := middleware.UserID(c)
	if err != nil {
		c.Error(err)
		return
	}

	row, err := h.service.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (h *Handler) Cancel(c *gin.Context) {
	userID, err := middleware.UserID(c)
	if err != nil {
		c.Error(err)
		return
	}

	row, err := h.service.Cancel(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (h *Handler) Refill(c *gin.Context) {
	userID, err := middleware.UserID(c)
	if err != nil {
		c.Error(err)
		return
	}

	row, err := h.service.Refill(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, row)
}
