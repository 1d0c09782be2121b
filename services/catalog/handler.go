package catalog

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"smmpanel/pkg/errutil"
)

var HandlerModule = fx.Module("catalog.handler",
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)

type Handler struct {
	catalog    *Catalog
	reconciler *Reconciler
}

type HandlerParams struct {
	fx.In
	Catalog    *Catalog
	Reconciler *Reconciler
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{catalog: p.Catalog, reconciler: p.Reconciler}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	v1 := r.Group("/api/v1")

	v1.GET("/services", h.ListServices)
	v1.GET("/admin/services", h.ListServicesAdmin)
	v1.PATCH("/services/:id", h.UpdateService)
	v1.POST("/providers/:id/sync", h.SyncProvider)
}

func (h *Handler) ListServices(c *gin.Context) {
	views, err := h.catalog.ListPublic(c.Request.Context(), c.Query("category"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"services": views})
}

func (h *Handler) ListServicesAdmin(c *gin.Context) {
	rows, err := h.catalog.ListAdmin(c.Request.Context(), c.Query("provider_id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"services": rows})
}

func (h *Handler) UpdateService(c *gin.Context) {
	var req UpdateServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", errutil.WithErr(err)))
		return
	}

	svc, err := h.catalog.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, svc)
}

// SyncProvider triggers a reconciliation inline and returns its summary.
// Concurrent triggers for the same provider get a 409.
func (h *Handler) SyncProvider(c *gin.Context) {
	result, err := h.reconciler.Sync(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}
