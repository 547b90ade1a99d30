package models

// Response common response structure
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// CopyRequest copies (or moves) leaf nodes into a destination container node.
type CopyRequest struct {
	Sources     []string `json:"sources" binding:"required"`
	Destination string   `json:"destination" binding:"required"`
}

// DeleteRequest deletes leaf nodes.
type DeleteRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

// SelectRequest replaces the current selection.
type SelectRequest struct {
	IDs      []string `json:"ids"`
	Category Category `json:"category,omitempty"` // optional capability filter for the response
}

// TransferItem result for one source node of a bulk operation
type TransferItem struct {
	NodeID string `json:"node_id"`
	Name   string `json:"name"`
	Target string `json:"target,omitempty"` // destination-native name
	Error  string `json:"error,omitempty"`
}

// TransferResult result of a bulk copy/move/delete
type TransferResult struct {
	Succeeded []TransferItem `json:"succeeded"`
	Failed    []TransferItem `json:"failed"`
}

// ConnectionListResponse connection list response
type ConnectionListResponse struct {
	Connections []Connection `json:"connections"`
	Total       int          `json:"total"`
}
