package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/choraleia/styletree/pkg/models"
	"github.com/choraleia/styletree/pkg/service/backend"
	"github.com/choraleia/styletree/pkg/store"
	"github.com/choraleia/styletree/pkg/tree"
)

// ConnectionHandler manages saved connections and keeps the tree's roots in step.
type ConnectionHandler struct {
	Store      *store.ConnectionStore
	Connectors *backend.Registry
	Tree       *tree.Tree
	Logger     *slog.Logger
}

func NewConnectionHandler(s *store.ConnectionStore, connectors *backend.Registry, t *tree.Tree, logger *slog.Logger) *ConnectionHandler {
	return &ConnectionHandler{Store: s, Connectors: connectors, Tree: t, Logger: logger}
}

func storeStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrConnectionNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConnectionNameExists), errors.Is(err, store.ErrConnectionNameReserved):
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

func (h *ConnectionHandler) attach(c *gin.Context, conn *models.Connection) {
	connector, err := h.Connectors.FromConnection(conn)
	if err != nil {
		h.Logger.Error("Failed to build connector", "connectionId", conn.ID, "name", conn.Name, "error", err)
		return
	}
	if _, err := h.Tree.Attach(c.Request.Context(), connector); err != nil {
		h.Logger.Error("Failed to attach connection to tree", "connectionId", conn.ID, "name", conn.Name, "error", err)
	}
}

func (h *ConnectionHandler) Create(c *gin.Context) {
	var req models.CreateConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Logger.Warn("Invalid create connection request", "error", err, "clientIP", c.ClientIP())
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: "Invalid request parameters: " + err.Error()})
		return
	}
	conn, err := h.Store.Create(c.Request.Context(), &req)
	if err != nil {
		status := storeStatus(err)
		h.Logger.Error("Failed to create connection", "name", req.Name, "kind", req.Kind, "error", err)
		c.JSON(status, models.Response{Code: status, Message: err.Error()})
		return
	}
	h.attach(c, conn)
	h.Logger.Info("Connection created via API", "connectionId", conn.ID, "name", conn.Name, "kind", conn.Kind, "clientIP", c.ClientIP())
	c.JSON(http.StatusCreated, models.Response{Code: 200, Message: "Created successfully", Data: conn})
}

func (h *ConnectionHandler) List(c *gin.Context) {
	conns, err := h.Store.List(c.Request.Context())
	if err != nil {
		h.Logger.Error("Failed to list connections", "error", err)
		c.JSON(http.StatusInternalServerError, models.Response{Code: 500, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 200, Message: "Retrieved successfully", Data: models.ConnectionListResponse{Connections: conns, Total: len(conns)}})
}

func (h *ConnectionHandler) Get(c *gin.Context) {
	id := c.Param("id")
	conn, err := h.Store.Get(c.Request.Context(), id)
	if err != nil {
		status := storeStatus(err)
		h.Logger.Warn("Connection not found via API", "connectionId", id, "clientIP", c.ClientIP())
		c.JSON(status, models.Response{Code: status, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 200, Message: "Retrieved successfully", Data: conn})
}

func (h *ConnectionHandler) Update(c *gin.Context) {
	id := c.Param("id")
	var req models.UpdateConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Logger.Warn("Invalid update connection request", "connectionId", id, "error", err, "clientIP", c.ClientIP())
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: "Invalid request parameters: " + err.Error()})
		return
	}
	before, err := h.Store.Get(c.Request.Context(), id)
	if err != nil {
		status := storeStatus(err)
		c.JSON(status, models.Response{Code: status, Message: err.Error()})
		return
	}
	conn, err := h.Store.Update(c.Request.Context(), id, &req)
	if err != nil {
		status := storeStatus(err)
		h.Logger.Error("Failed to update connection", "connectionId", id, "error", err, "clientIP", c.ClientIP())
		c.JSON(status, models.Response{Code: status, Message: err.Error()})
		return
	}
	if before.Name != conn.Name {
		if err := h.Tree.Detach(c.Request.Context(), before.Name); err != nil {
			h.Logger.Error("Failed to detach renamed connection", "connectionId", id, "name", before.Name, "error", err)
		}
	}
	h.attach(c, conn)
	h.Logger.Info("Connection updated via API", "connectionId", id, "name", conn.Name, "clientIP", c.ClientIP())
	c.JSON(http.StatusOK, models.Response{Code: 200, Message: "Updated successfully", Data: conn})
}

func (h *ConnectionHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	conn, err := h.Store.Delete(c.Request.Context(), id)
	if err != nil {
		status := storeStatus(err)
		h.Logger.Error("Failed to delete connection", "connectionId", id, "error", err, "clientIP", c.ClientIP())
		c.JSON(status, models.Response{Code: status, Message: err.Error()})
		return
	}
	if err := h.Tree.Detach(c.Request.Context(), conn.Name); err != nil {
		h.Logger.Error("Failed to detach connection", "connectionId", id, "name", conn.Name, "error", err)
	}
	h.Logger.Info("Connection deleted via API", "connectionId", id, "clientIP", c.ClientIP())
	c.JSON(http.StatusOK, models.Response{Code: 200, Message: "Deleted successfully"})
}
