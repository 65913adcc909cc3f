// Package command implements the remote control channel: block, unblock
// and reload orders issued by a central controller.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"firestige.xyz/floodgate/internal/core"
)

// Engine is the part of the event loop commands act on.
type Engine interface {
	ForceBlock(ctx context.Context, src core.Source, d time.Duration) time.Time
	Unblock(ctx context.Context, src core.Source)
}

// ConfigReloader is the interface for reloading global configuration.
type ConfigReloader interface {
	Reload() error
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"` // block | unblock | config_reload
	Params json.RawMessage `json:"params"`
	ID     string          `json:"id"` // request ID for tracking
}

// Response represents a command response.
type Response struct {
	ID     string     `json:"id"`
	Result any        `json:"result,omitempty"`
	Error  *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// BlockParams are the block command parameters. An empty duration means
// the configured block window.
type BlockParams struct {
	Source   core.Source `json:"source"`
	Duration string      `json:"duration,omitempty"`
}

// UnblockParams are the unblock command parameters.
type UnblockParams struct {
	Source core.Source `json:"source"`
}

// BlockResult is returned by block and unblock.
type BlockResult struct {
	Source  core.Source `json:"source"`
	Blocked bool        `json:"blocked"`
	Until   time.Time   `json:"until,omitzero"`
}

// Handler executes commands against the engine.
type Handler struct {
	engine   Engine
	reloader ConfigReloader
}

// NewHandler creates a command handler. reloader may be nil.
func NewHandler(engine Engine, reloader ConfigReloader) *Handler {
	return &Handler{engine: engine, reloader: reloader}
}

// Handle processes a command and returns a response.
func (h *Handler) Handle(ctx context.Context, cmd Command) Response {
	slog.Debug("handling command", "method", cmd.Method, "id", cmd.ID)

	switch cmd.Method {
	case "block":
		return h.handleBlock(ctx, cmd)
	case "unblock":
		return h.handleUnblock(ctx, cmd)
	case "config_reload":
		return h.handleConfigReload(cmd)
	default:
		return errorResponse(cmd.ID, ErrCodeMethodNotFound, fmt.Sprintf("method %q not found", cmd.Method))
	}
}

func (h *Handler) handleBlock(ctx context.Context, cmd Command) Response {
	var p BlockParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return errorResponse(cmd.ID, ErrCodeParseError, err.Error())
	}
	if p.Source == "" {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "source is required")
	}
	var d time.Duration
	if p.Duration != "" {
		var err error
		if d, err = time.ParseDuration(p.Duration); err != nil || d < 0 {
			return errorResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid duration %q", p.Duration))
		}
	}
	until := h.engine.ForceBlock(ctx, p.Source, d)
	return Response{ID: cmd.ID, Result: BlockResult{Source: p.Source, Blocked: true, Until: until}}
}

func (h *Handler) handleUnblock(ctx context.Context, cmd Command) Response {
	var p UnblockParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return errorResponse(cmd.ID, ErrCodeParseError, err.Error())
	}
	if p.Source == "" {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "source is required")
	}
	h.engine.Unblock(ctx, p.Source)
	return Response{ID: cmd.ID, Result: BlockResult{Source: p.Source}}
}

func (h *Handler) handleConfigReload(cmd Command) Response {
	if h.reloader == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "config reload not available")
	}
	if err := h.reloader.Reload(); err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, err.Error())
	}
	return Response{ID: cmd.ID, Result: map[string]string{"status": "reloaded"}}
}

func errorResponse(id string, code int, msg string) Response {
	return Response{ID: id, Error: &ErrorInfo{Code: code, Message: msg}}
}
