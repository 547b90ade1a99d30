package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/choraleia/styletree/pkg/models"
	"github.com/choraleia/styletree/pkg/tree"
)

// TreeHandler provides HTTP handlers for tree navigation and bulk operations
type TreeHandler struct {
	Tree   *tree.Tree
	Logger *slog.Logger
}

func NewTreeHandler(t *tree.Tree, logger *slog.Logger) *TreeHandler {
	return &TreeHandler{Tree: t, Logger: logger}
}

// treeStatus maps tree errors onto HTTP status codes.
func treeStatus(err error) int {
	switch {
	case errors.Is(err, tree.ErrNodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, tree.ErrMisuse):
		return http.StatusBadRequest
	case errors.Is(err, tree.ErrUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, tree.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *TreeHandler) fail(c *gin.Context, msg string, err error, args ...any) {
	status := treeStatus(err)
	args = append(args, "error", err, "clientIP", c.ClientIP())
	if status >= http.StatusInternalServerError {
		h.Logger.Error(msg, args...)
	} else {
		h.Logger.Warn(msg, args...)
	}
	c.JSON(status, models.Response{Code: status, Message: err.Error()})
}

func (h *TreeHandler) Roots(c *gin.Context) {
	roots, err := h.Tree.Roots(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to list roots", err)
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 200, Message: "Retrieved successfully", Data: roots})
}

// Get returns a node snapshot. Query: depth (default 1, negative for the whole subtree).
func (h *TreeHandler) Get(c *gin.Context) {
	id := c.Param("id")
	depth := 1
	if v := c.Query("depth"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: "Invalid depth: " + v})
			return
		}
		depth = d
	}
	node, err := h.Tree.Snapshot(c.Request.Context(), id, depth)
	if err != nil {
		h.fail(c, "Failed to get node", err, "nodeId", id)
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 200, Message: "Retrieved successfully", Data: node})
}

func (h *TreeHandler) Expand(c *gin.Context) {
	id := c.Param("id")
	node, err := h.Tree.Expand(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to expand node", err, "nodeId", id)
		return
	}
	h.Logger.Debug("Node expanded via API", "nodeId", id, "children", len(node.Children), "clientIP", c.ClientIP())
	c.JSON(http.StatusOK, models.Response{Code: 200, Message: "Expanded successfully", Data: node})
}

func (h *TreeHandler) Refresh(c *gin.Context) {
	id := c.Param("id")
	node, err := h.Tree.Refresh(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to refresh node", err, "nodeId", id)
		return
	}
	h.Logger.Info("Node refreshed via API", "nodeId", id, "clientIP", c.ClientIP())
	c.JSON(http.StatusOK, models.Response{Code: 200, Message: "Refreshed successfully", Data: node})
}

// Populate computes a node's children. Query: descend=true also populates
// each expandable child one level, so no placeholder remains directly below.
func (h *TreeHandler) Populate(c *gin.Context) {
	id := c.Param("id")
	descend := c.Query("descend") == "true"
	changed, err := h.Tree.Populate(c.Request.Context(), id, descend)
	if err != nil {
		h.fail(c, "Failed to populate node", err, "nodeId", id, "descend", descend)
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 200, Message: "Populated successfully", Data: map[string]interface{}{"changed": changed}})
}

func (h *TreeHandler) Select(c *gin.Context) {
	var req models.SelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Logger.Warn("Invalid select request", "error", err, "clientIP", c.ClientIP())
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: "Invalid request parameters: " + err.Error()})
		return
	}
	sel, err := h.Tree.Select(c.Request.Context(), req.IDs)
	if err != nil {
		h.fail(c, "Failed to select nodes", err, "ids", req.IDs)
		return
	}
	if req.Category != "" {
		sel = tree.FilterByCategory(sel, req.Category)
	}
	c.JSON(http.StatusOK, models.Response{Code: 200, Message: "Selected successfully", Data: sel})
}

// Selection returns the current selection. Query: category filters by capability.
func (h *TreeHandler) Selection(c *gin.Context) {
	sel, err := h.Tree.Selection(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to get selection", err)
		return
	}
	if cat := c.Query("category"); cat != "" {
		sel = tree.FilterByCategory(sel, models.Category(cat))
	}
	c.JSON(http.StatusOK, models.Response{Code: 200, Message: "Retrieved successfully", Data: sel})
}

func (h *TreeHandler) Copy(c *gin.Context) {
	h.transfer(c, "copy", h.Tree.Copy)
}

func (h *TreeHandler) Move(c *gin.Context) {
	h.transfer(c, "move", h.Tree.Move)
}

type transferFunc func(ctx context.Context, ids []string, destID string) (*tree.TransferReport, error)

func (h *TreeHandler) transfer(c *gin.Context, op string, fn transferFunc) {
	var req models.CopyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Logger.Warn("Invalid "+op+" request", "error", err, "clientIP", c.ClientIP())
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: "Invalid request parameters: " + err.Error()})
		return
	}
	report, err := fn(c.Request.Context(), req.Sources, req.Destination)
	if err != nil {
		h.fail(c, "Failed to "+op+" nodes", err, "sources", req.Sources, "destination", req.Destination)
		return
	}
	h.respondReport(c, report)
}

func (h *TreeHandler) Delete(c *gin.Context) {
	var req models.DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Logger.Warn("Invalid delete request", "error", err, "clientIP", c.ClientIP())
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: "Invalid request parameters: " + err.Error()})
		return
	}
	report, err := h.Tree.Delete(c.Request.Context(), req.IDs)
	if err != nil {
		h.fail(c, "Failed to delete nodes", err, "ids", req.IDs)
		return
	}
	h.respondReport(c, report)
}

// respondReport answers 200 when every item succeeded, 207 otherwise.
func (h *TreeHandler) respondReport(c *gin.Context, report *tree.TransferReport) {
	result := report.Result()
	h.Logger.Info("Bulk operation via API", "op", report.Op, "succeeded", len(result.Succeeded), "failed", len(result.Failed), "clientIP", c.ClientIP())
	if len(result.Failed) > 0 {
		c.JSON(http.StatusMultiStatus, models.Response{Code: http.StatusMultiStatus, Message: report.Err().Error(), Data: result})
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 200, Message: "Completed successfully", Data: result})
}

// Content streams a leaf resource's bytes.
func (h *TreeHandler) Content(c *gin.Context) {
	id := c.Param("id")
	res, err := h.Tree.Open(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to open node", err, "nodeId", id)
		return
	}
	contentType := "application/octet-stream"
	if res.Category == models.CategoryStyle {
		contentType = "application/vnd.ogc.sld+xml"
	}
	c.Header("Content-Disposition", "attachment; filename=\""+res.Name+"\"")
	if res.StyleName != "" {
		c.Header("X-Style-Name", res.StyleName)
	}
	c.Data(http.StatusOK, contentType, res.Data)
}

// Resolve finds a node by connector and native locator, loading the path on demand.
func (h *TreeHandler) Resolve(c *gin.Context) {
	connector, locator := c.Query("connector"), c.Query("locator")
	if connector == "" || locator == "" {
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: "connector and locator are required"})
		return
	}
	node, err := h.Tree.Resolve(c.Request.Context(), connector, locator)
	if err != nil {
		h.fail(c, "Failed to resolve node", err, "connector", connector, "locator", locator)
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 200, Message: "Retrieved successfully", Data: node})
}
