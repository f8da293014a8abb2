package mcp

import (
	"fmt"
	"strings"
	"time"

	"github.com/contextkb/knowledge-server/internal/core/domain"
	"github.com/contextkb/knowledge-server/internal/core/ports"
)

const previewLength = 300

func formatAddResult(result *ports.AddResult) string {
	var sb strings.Builder
	switch {
	case result.Duplicate:
		sb.WriteString("Document already known, chunks reused.\n\n")
		sb.WriteString(fmt.Sprintf("**Document ID:** %s\n", result.DocumentID))
	case result.TaskID != "":
		sb.WriteString("Ingestion queued.\n\n")
		sb.WriteString(fmt.Sprintf("**Task ID:** %s\n", result.TaskID))
		sb.WriteString(fmt.Sprintf("**Document ID:** %s\n", result.DocumentID))
		sb.WriteString("\nPoll progress with `knowledge-task-status`.\n")
	default:
		sb.WriteString("Document ingested.\n\n")
		sb.WriteString(fmt.Sprintf("**Document ID:** %s\n", result.DocumentID))
		sb.WriteString(fmt.Sprintf("**Chunks stored:** %d\n", result.ChunkCount))
	}
	return sb.String()
}

func formatSearchResults(query, contextName string, results []domain.SearchResult) string {
	var sb strings.Builder
	scope := "all contexts"
	if contextName != "" {
		scope = fmt.Sprintf("context `%s`", contextName)
	}
	sb.WriteString(fmt.Sprintf("## Results for %q in %s (%d)\n\n", query, scope, len(results)))

	if len(results) == 0 {
		sb.WriteString("No matching chunks found.\n")
		return sb.String()
	}
	for i, res := range results {
		title := res.Filename
		if title == "" {
			title = res.DocumentID
		}
		sb.WriteString(fmt.Sprintf("### %d. %s (score %.3f)\n", i+1, title, res.Score))
		sb.WriteString(fmt.Sprintf("**Context:** %s · **Document:** %s · **Chunk:** %d\n\n", res.Context, res.DocumentID, res.Index))
		sb.WriteString(preview(res.Text))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func formatDocuments(contextName string, docs []domain.Document) string {
	var sb strings.Builder
	if contextName == "" {
		sb.WriteString(fmt.Sprintf("## Documents (%d)\n\n", len(docs)))
	} else {
		sb.WriteString(fmt.Sprintf("## Documents in `%s` (%d)\n\n", contextName, len(docs)))
	}
	if len(docs) == 0 {
		sb.WriteString("No documents stored.\n")
		return sb.String()
	}
	for i, doc := range docs {
		sb.WriteString(fmt.Sprintf("%d. **%s** — %s\n", i+1, doc.Filename, doc.Status))
		sb.WriteString(fmt.Sprintf("   ID: %s · format: %s · chunks: %d · contexts: %s\n",
			doc.ID, doc.Format, doc.ChunkCount, strings.Join(doc.Contexts, ", ")))
		if doc.Method != "" {
			sb.WriteString(fmt.Sprintf("   method: %s\n", doc.Method))
		}
		if doc.Error != "" {
			sb.WriteString(fmt.Sprintf("   error: %s\n", doc.Error))
		}
		sb.WriteString(fmt.Sprintf("   added: %s\n\n", doc.CreatedAt.Format(time.RFC3339)))
	}
	return sb.String()
}

func formatStatistics(stats *domain.Statistics) string {
	var sb strings.Builder
	sb.WriteString("## Knowledge Base Status\n\n")
	sb.WriteString(fmt.Sprintf("**Documents:** %d\n", stats.DocumentCount))
	sb.WriteString(fmt.Sprintf("**Chunks:** %d\n", stats.ChunkCount))
	sb.WriteString(fmt.Sprintf("**Contexts:** %d\n", stats.ContextCount))

	if len(stats.ByStatus) > 0 {
		sb.WriteString("\n**By status:**\n")
		for status, n := range stats.ByStatus {
			sb.WriteString(fmt.Sprintf("- %s: %d\n", status, n))
		}
	}
	if len(stats.ByFormat) > 0 {
		sb.WriteString("\n**By format:**\n")
		for format, n := range stats.ByFormat {
			sb.WriteString(fmt.Sprintf("- %s: %d\n", format, n))
		}
	}
	return sb.String()
}

func formatTask(task domain.Task) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Task %s\n\n", task.ID))
	sb.WriteString(fmt.Sprintf("**Status:** %s\n", task.Status))
	sb.WriteString(fmt.Sprintf("**Progress:** %.0f%%\n", task.Progress*100))
	if task.CurrentStep != "" {
		sb.WriteString(fmt.Sprintf("**Step:** %s\n", task.CurrentStep))
	}
	sb.WriteString(fmt.Sprintf("**Document:** %s\n", task.DocumentID))
	if !task.StartedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("**Started:** %s\n", task.StartedAt.Format(time.RFC3339)))
	}
	if task.CompletedAt != nil {
		sb.WriteString(fmt.Sprintf("**Finished:** %s\n", task.CompletedAt.Format(time.RFC3339)))
	}
	if task.Error != "" {
		sb.WriteString(fmt.Sprintf("**Error:** %s\n", task.Error))
	}
	return sb.String()
}

func formatContexts(entries []domain.Context) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Contexts (%d)\n\n", len(entries)))
	for _, entry := range entries {
		sb.WriteString(fmt.Sprintf("- **%s** — %d documents, %d chunks", entry.Name, entry.DocumentCount, entry.ChunkCount))
		if entry.Description != "" {
			sb.WriteString(fmt.Sprintf(" · %s", entry.Description))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatContext(entry *domain.Context) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Context `%s`\n\n", entry.Name))
	if entry.Description != "" {
		sb.WriteString(entry.Description + "\n\n")
	}
	sb.WriteString(fmt.Sprintf("**Documents:** %d\n", entry.DocumentCount))
	sb.WriteString(fmt.Sprintf("**Chunks:** %d\n", entry.ChunkCount))
	sb.WriteString(fmt.Sprintf("**Created:** %s\n", entry.CreatedAt.Format(time.RFC3339)))
	return sb.String()
}

func preview(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > previewLength {
		return text[:previewLength] + "..."
	}
	return text
}
