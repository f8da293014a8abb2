package mcp

import (
	"context"
	"fmt"
	"log/slog"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/contextkb/knowledge-server/internal/core/domain"
	"github.com/contextkb/knowledge-server/internal/core/ports"
)

// Handlers binds the tool surface to the knowledge service.
type Handlers struct {
	service ports.KnowledgeService
	logger  *slog.Logger
}

func NewHandlers(service ports.KnowledgeService, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{service: service, logger: logger}
}

func (h *Handlers) handleAdd() server.ToolHandlerFunc {
	return func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		path, err := request.RequireString("path")
		if err != nil || path == "" {
			return mcpgo.NewToolResultError("path parameter is required"), nil
		}
		req := ports.AddRequest{
			Path:     path,
			Contexts: request.GetStringSlice("contexts", nil),
			ForceOCR: request.GetBool("force_ocr", false),
			Sync:     request.GetBool("sync", false),
		}

		result, err := h.service.AddDocument(ctx, req)
		if err != nil {
			h.logger.Error("add failed", "path", path, "error", err)
			return h.errorResult("add", err), nil
		}
		return mcpgo.NewToolResultText(formatAddResult(result)), nil
	}
}

func (h *Handlers) handleSearch() server.ToolHandlerFunc {
	return func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil || query == "" {
			return mcpgo.NewToolResultError("query parameter is required"), nil
		}
		contextName := request.GetString("context", "")
		topK := request.GetInt("top_k", 0)
		minRelevance := request.GetFloat("min_relevance", 0)

		results, err := h.service.Search(ctx, query, contextName, topK, minRelevance)
		if err != nil {
			h.logger.Error("search failed", "query", query, "context", contextName, "error", err)
			return h.errorResult("search", err), nil
		}
		return mcpgo.NewToolResultText(formatSearchResults(query, contextName, results)), nil
	}
}

func (h *Handlers) handleShow() server.ToolHandlerFunc {
	return func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		contextName := request.GetString("context", "")

		docs, err := h.service.ListDocuments(ctx, contextName)
		if err != nil {
			return h.errorResult("show", err), nil
		}
		return mcpgo.NewToolResultText(formatDocuments(contextName, docs)), nil
	}
}

func (h *Handlers) handleRemove() server.ToolHandlerFunc {
	return func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		documentID, err := request.RequireString("document_id")
		if err != nil || documentID == "" {
			return mcpgo.NewToolResultError("document_id parameter is required"), nil
		}

		removed, err := h.service.RemoveDocument(ctx, documentID)
		if err != nil {
			h.logger.Error("remove failed", "document_id", documentID, "error", err)
			return h.errorResult("remove", err), nil
		}
		return mcpgo.NewToolResultText(fmt.Sprintf("Removed document `%s` (%d chunks deleted).", documentID, removed)), nil
	}
}

func (h *Handlers) handleClear() server.ToolHandlerFunc {
	return func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		contextName := request.GetString("context", "")
		confirm := request.GetBool("confirm", false)

		var (
			removed int
			err     error
		)
		if contextName == "" {
			removed, err = h.service.ClearAll(ctx, confirm)
		} else {
			removed, err = h.service.ClearContext(ctx, contextName, confirm)
		}
		if err != nil {
			return h.errorResult("clear", err), nil
		}
		if contextName == "" {
			return mcpgo.NewToolResultText(fmt.Sprintf("Knowledge base cleared, %d chunks deleted.", removed)), nil
		}
		return mcpgo.NewToolResultText(fmt.Sprintf("Context `%s` cleared, %d chunks deleted.", contextName, removed)), nil
	}
}

func (h *Handlers) handleStatus() server.ToolHandlerFunc {
	return func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		stats, err := h.service.Statistics(ctx)
		if err != nil {
			return h.errorResult("status", err), nil
		}
		return mcpgo.NewToolResultText(formatStatistics(stats)), nil
	}
}

func (h *Handlers) handleTaskStatus() server.ToolHandlerFunc {
	return func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		taskID, err := request.RequireString("task_id")
		if err != nil || taskID == "" {
			return mcpgo.NewToolResultError("task_id parameter is required"), nil
		}

		task, err := h.service.TaskStatus(ctx, taskID)
		if err != nil {
			return h.errorResult("task-status", err), nil
		}
		return mcpgo.NewToolResultText(formatTask(task)), nil
	}
}

func (h *Handlers) handleContextCreate() server.ToolHandlerFunc {
	return func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		name, err := request.RequireString("name")
		if err != nil || name == "" {
			return mcpgo.NewToolResultError("name parameter is required"), nil
		}
		description := request.GetString("description", "")

		entry, err := h.service.CreateContext(ctx, name, description)
		if err != nil {
			return h.errorResult("context-create", err), nil
		}
		return mcpgo.NewToolResultText(fmt.Sprintf("Context `%s` created.", entry.Name)), nil
	}
}

func (h *Handlers) handleContextList() server.ToolHandlerFunc {
	return func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		entries, err := h.service.ListContexts(ctx)
		if err != nil {
			return h.errorResult("context-list", err), nil
		}
		return mcpgo.NewToolResultText(formatContexts(entries)), nil
	}
}

func (h *Handlers) handleContextShow() server.ToolHandlerFunc {
	return func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		name, err := request.RequireString("name")
		if err != nil || name == "" {
			return mcpgo.NewToolResultError("name parameter is required"), nil
		}

		entry, err := h.service.GetContext(ctx, name)
		if err != nil {
			return h.errorResult("context-show", err), nil
		}
		return mcpgo.NewToolResultText(formatContext(entry)), nil
	}
}

func (h *Handlers) handleContextDelete() server.ToolHandlerFunc {
	return func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		name, err := request.RequireString("name")
		if err != nil || name == "" {
			return mcpgo.NewToolResultError("name parameter is required"), nil
		}

		if err := h.service.DeleteContext(ctx, name); err != nil {
			return h.errorResult("context-delete", err), nil
		}
		return mcpgo.NewToolResultText(fmt.Sprintf("Context `%s` deleted.", name)), nil
	}
}

// errorResult renders domain errors as tool errors the caller can act on.
// Unexpected kinds stay generic so internals do not leak into tool output.
func (h *Handlers) errorResult(tool string, err error) *mcpgo.CallToolResult {
	switch {
	case domain.IsKind(err, domain.ErrValidation):
		return mcpgo.NewToolResultError(fmt.Sprintf("Invalid input: %v", err))
	case domain.IsKind(err, domain.ErrNotFound):
		return mcpgo.NewToolResultError(fmt.Sprintf("Not found: %v", err))
	case domain.IsKind(err, domain.ErrDuplicate):
		return mcpgo.NewToolResultError(fmt.Sprintf("Already exists: %v", err))
	case domain.IsKind(err, domain.ErrReservedContext):
		return mcpgo.NewToolResultError(fmt.Sprintf("Reserved context: %v", err))
	case domain.IsKind(err, domain.ErrCapacity):
		return mcpgo.NewToolResultError("Ingestion queue is full, retry later")
	default:
		h.logger.Error("tool failed", "tool", tool, "error", err)
		return mcpgo.NewToolResultError(fmt.Sprintf("%s failed: %v", tool, err))
	}
}
