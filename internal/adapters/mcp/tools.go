package mcp

import (
	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

func addTool() mcpgo.Tool {
	return mcpgo.NewTool("knowledge-add",
		mcpgo.WithDescription("Ingest a document (pdf, docx, pptx, xlsx, html, jpg, png, svg) into one or more knowledge contexts"),
		mcpgo.WithString("path",
			mcpgo.Required(),
			mcpgo.Description("Absolute path to the file on the server host"),
		),
		mcpgo.WithArray("contexts",
			mcpgo.WithStringItems(),
			mcpgo.Description("Target context names (default context when omitted, unknown contexts are created)"),
		),
		mcpgo.WithBoolean("force_ocr",
			mcpgo.Description("Skip quality assessment and recognize the document with OCR"),
		),
		mcpgo.WithBoolean("sync",
			mcpgo.Description("Process inline and return the final result instead of a task id"),
		),
	)
}

func searchTool() mcpgo.Tool {
	return mcpgo.NewTool("knowledge-search",
		mcpgo.WithDescription("Semantic search over stored documents, scoped to one context or across all of them"),
		mcpgo.WithString("query",
			mcpgo.Required(),
			mcpgo.Description("Natural-language search query"),
		),
		mcpgo.WithString("context",
			mcpgo.Description("Context to search in (all contexts when omitted)"),
		),
		mcpgo.WithNumber("top_k",
			mcpgo.Description("Maximum results to return"),
		),
		mcpgo.WithNumber("min_relevance",
			mcpgo.Description("Minimum similarity score between 0 and 1"),
		),
	)
}

func showTool() mcpgo.Tool {
	return mcpgo.NewTool("knowledge-show",
		mcpgo.WithDescription("List stored documents, optionally filtered by context"),
		mcpgo.WithString("context",
			mcpgo.Description("Context to list (all documents when omitted)"),
		),
	)
}

func removeTool() mcpgo.Tool {
	return mcpgo.NewTool("knowledge-remove",
		mcpgo.WithDescription("Remove a document and its chunks from every context it belongs to"),
		mcpgo.WithString("document_id",
			mcpgo.Required(),
			mcpgo.Description("Document id as reported by knowledge-add or knowledge-show"),
		),
	)
}

func clearTool() mcpgo.Tool {
	return mcpgo.NewTool("knowledge-clear",
		mcpgo.WithDescription("Clear one context or the whole knowledge base. Destructive, requires confirm=true"),
		mcpgo.WithString("context",
			mcpgo.Description("Context to clear (the entire knowledge base when omitted)"),
		),
		mcpgo.WithBoolean("confirm",
			mcpgo.Description("Must be true, nothing is deleted otherwise"),
		),
	)
}

func statusTool() mcpgo.Tool {
	return mcpgo.NewTool("knowledge-status",
		mcpgo.WithDescription("Knowledge base statistics: documents, chunks, contexts, status and format breakdowns"),
	)
}

func taskStatusTool() mcpgo.Tool {
	return mcpgo.NewTool("knowledge-task-status",
		mcpgo.WithDescription("Progress of an asynchronous ingestion task"),
		mcpgo.WithString("task_id",
			mcpgo.Required(),
			mcpgo.Description("Task id returned by knowledge-add"),
		),
	)
}

func contextCreateTool() mcpgo.Tool {
	return mcpgo.NewTool("knowledge-context-create",
		mcpgo.WithDescription("Create a new isolated knowledge context"),
		mcpgo.WithString("name",
			mcpgo.Required(),
			mcpgo.Description("Context name (lowercase alphanumeric, dashes and underscores)"),
		),
		mcpgo.WithString("description",
			mcpgo.Description("Human-readable purpose of the context"),
		),
	)
}

func contextListTool() mcpgo.Tool {
	return mcpgo.NewTool("knowledge-context-list",
		mcpgo.WithDescription("List all contexts with document and chunk counts"),
	)
}

func contextShowTool() mcpgo.Tool {
	return mcpgo.NewTool("knowledge-context-show",
		mcpgo.WithDescription("Details and live statistics of one context"),
		mcpgo.WithString("name",
			mcpgo.Required(),
			mcpgo.Description("Context name"),
		),
	)
}

func contextDeleteTool() mcpgo.Tool {
	return mcpgo.NewTool("knowledge-context-delete",
		mcpgo.WithDescription("Delete a context and its collection. Documents living only in this context are removed"),
		mcpgo.WithString("name",
			mcpgo.Required(),
			mcpgo.Description("Context name, the default context cannot be deleted"),
		),
	)
}
