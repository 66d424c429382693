package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/lectern/internal/tutor"
)

// NewMCPServer creates an MCP server exposing question answering and
// document upload to agent clients.
func NewMCPServer(t Tutor, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"lectern",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("lectern answers questions from the uploaded material of a course and manages that material."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_question",
			mcp.WithDescription("Answer a question using only the material uploaded to a course. Returns the answer, cited sources, and a confidence percentage."),
			mcp.WithString("user_id", mcp.Description("ID of the asking user"), mcp.Required()),
			mcp.WithString("course_id", mcp.Description("Course to search"), mcp.Required()),
			mcp.WithString("question", mcp.Description("The question, 1 to 500 characters"), mcp.Required()),
		),
		mcpAsk(t),
	)

	s.AddTool(
		mcp.NewTool("upload_document",
			mcp.WithDescription("Add material to a course. Send text as content, or a file as filename plus base64 data. Processing runs in the background."),
			mcp.WithString("user_id", mcp.Description("ID of the uploading instructor"), mcp.Required()),
			mcp.WithString("course_id", mcp.Description("Target course"), mcp.Required()),
			mcp.WithString("title", mcp.Description("Document title; derived from the file when omitted")),
			mcp.WithString("content", mcp.Description("Plain text content")),
			mcp.WithString("filename", mcp.Description("File name with extension (.pdf, .docx, .md, .html, .txt, .csv)")),
			mcp.WithString("data", mcp.Description("Base64-encoded file contents")),
		),
		mcpUpload(t),
	)

	s.AddTool(
		mcp.NewTool("document_status",
			mcp.WithDescription("Report the processing status of an uploaded document."),
			mcp.WithString("user_id", mcp.Description("ID of the requesting user"), mcp.Required()),
			mcp.WithString("document_id", mcp.Description("Document ID returned by upload_document"), mcp.Required()),
		),
		mcpStatus(t),
	)

	return s
}

func mcpAsk(t Tutor) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		user, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		courseID, err := req.RequireString("course_id")
		if err != nil {
			return mcpError("course_id is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		resp, err := t.Ask(ctx, user, courseID, question)
		if err != nil {
			return mcpServiceError(err), nil
		}
		return mcpJSON(resp)
	}
}

func mcpUpload(t Tutor) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		user, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		courseID, err := req.RequireString("course_id")
		if err != nil {
			return mcpError("course_id is required"), nil
		}

		res, err := t.Upload(ctx, user, courseID, tutor.UploadRequest{
			Title:      req.GetString("title", ""),
			Content:    req.GetString("content", ""),
			Filename:   req.GetString("filename", ""),
			DataBase64: req.GetString("data", ""),
		})
		if err != nil {
			return mcpServiceError(err), nil
		}
		return mcpJSON(uploadResponse(res))
	}
}

func mcpStatus(t Tutor) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		user, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		docID, err := req.RequireString("document_id")
		if err != nil {
			return mcpError("document_id is required"), nil
		}

		st, err := t.Status(ctx, user, docID)
		if err != nil {
			return mcpServiceError(err), nil
		}
		return mcpJSON(statusResponse(st))
	}
}

func mcpServiceError(err error) *mcp.CallToolResult {
	if errors.Is(err, tutor.ErrUnavailable) {
		return mcpError(tutor.ErrUnavailable.Error())
	}
	return mcpError(err.Error())
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
