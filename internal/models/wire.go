package models

import (
	"encoding/json"
	"time"
)

// ItemStatus is the per-item outcome reported by the remote batch endpoint.
type ItemStatus string

const (
	ItemStatusSuccess  ItemStatus = "success"
	ItemStatusConflict ItemStatus = "conflict"
	ItemStatusError    ItemStatus = "error"
)

// BatchItem is a single queued mutation in a batch request.
type BatchItem struct {
	TaskID    string          `json:"task_id"`
	Operation Operation       `json:"operation"`
	Data      json.RawMessage `json:"data"`
}

// BatchSyncRequest is the body POSTed to the remote batch endpoint.
type BatchSyncRequest struct {
	Items []BatchItem `json:"items"`
}

// ProcessedItem is the remote verdict for one submitted item.
type ProcessedItem struct {
	ClientID     string          `json:"client_id"`
	ServerID     string          `json:"server_id"`
	Status       ItemStatus      `json:"status"`
	ResolvedData json.RawMessage `json:"resolved_data,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// BatchSyncResponse is the remote batch endpoint reply.
type BatchSyncResponse struct {
	ProcessedItems []ProcessedItem `json:"processed_items"`
}

// SyncError describes one failure recorded during a sync run.
type SyncError struct {
	TaskID    string    `json:"task_id"`
	Operation string    `json:"operation"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// SyncResult summarises a sync run.
type SyncResult struct {
	Success     bool        `json:"success"`
	SyncedItems int         `json:"synced_items"`
	FailedItems int         `json:"failed_items"`
	Errors      []SyncError `json:"errors"`
}

// NewSyncResult returns an empty result with a non-nil error list.
func NewSyncResult() *SyncResult {
	return &SyncResult{Errors: []SyncError{}}
}
