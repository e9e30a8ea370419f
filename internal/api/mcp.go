package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/clinicdocs/docgate/internal/gateway"
	"github.com/clinicdocs/docgate/internal/provider"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Gateway Gateway
	Uploads UploadLister // optional; the uploads resource is not registered when nil
	Logger  *slog.Logger
	Version string

	UploadTimeout  time.Duration
	RequestTimeout time.Duration
}

func (d MCPDeps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d MCPDeps) timeout(upload bool) time.Duration {
	if upload {
		if d.UploadTimeout > 0 {
			return d.UploadTimeout
		}
		return DefaultUploadTimeout
	}
	if d.RequestTimeout > 0 {
		return d.RequestTimeout
	}
	return DefaultRequestTimeout
}

// toolEnvelope is the only shape a tool ever returns.
type toolEnvelope struct {
	Success bool         `json:"success"`
	Result  any          `json:"result,omitempty"`
	Error   *errorDetail `json:"error,omitempty"`
}

// NewMCPServer creates an MCP server with one tool per gateway operation.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"docgate",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("docgate: upload documents to the clinic's AI document service, ask its agent questions and retrieve documents."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("upload_file",
			mcp.WithDescription("Upload one document to the provider."),
			mcp.WithString("name", mcp.Description("File name including extension"), mcp.Required()),
			mcp.WithString("content", mcp.Description("File content, base64 unless encoding is text"), mcp.Required()),
			mcp.WithString("encoding", mcp.Description("Content encoding (default base64)"), mcp.Enum("base64", "text")),
			mcp.WithString("mime_type", mcp.Description("MIME type; guessed from the name when omitted")),
			mcp.WithString("folder", mcp.Description("Target folder; the configured default when omitted")),
			mcp.WithObject("metadata", mcp.Description("Arbitrary metadata stored with the document")),
		),
		mcpUploadFile(deps),
	)

	s.AddTool(
		mcp.NewTool("upload_files",
			mcp.WithDescription("Upload several documents. They are sent in chunks of 10 and partial success is reported per file."),
			mcp.WithArray("files",
				mcp.Description("Files to upload"),
				mcp.Required(),
				mcp.Items(map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":      map[string]any{"type": "string"},
						"content":   map[string]any{"type": "string"},
						"encoding":  map[string]any{"type": "string", "enum": []string{"base64", "text"}},
						"mime_type": map[string]any{"type": "string"},
						"metadata":  map[string]any{"type": "object"},
					},
					"required": []string{"name", "content"},
				}),
			),
			mcp.WithString("folder", mcp.Description("Target folder for every file")),
		),
		mcpUploadFiles(deps),
	)

	s.AddTool(
		mcp.NewTool("agent_query",
			mcp.WithDescription("Ask the provider's document agent a question."),
			mcp.WithString("query", mcp.Description("The question"), mcp.Required()),
			mcp.WithString("folder", mcp.Description("Restrict the agent to one folder")),
			mcp.WithString("chat_id", mcp.Description("Continue an existing conversation")),
			mcp.WithString("user_id", mcp.Description("End user the question is asked for")),
			mcp.WithNumber("temperature", mcp.Description("Sampling temperature"), mcp.Min(0), mcp.Max(1)),
			mcp.WithNumber("max_tokens", mcp.Description("Maximum answer length in tokens"), mcp.Min(1)),
		),
		mcpAgentQuery(deps),
	)

	s.AddTool(
		mcp.NewTool("retrieve_documents",
			mcp.WithDescription("Retrieve one page of documents matching a query."),
			mcp.WithString("query", mcp.Description("Search text")),
			mcp.WithString("folder", mcp.Description("Restrict to one folder")),
			mcp.WithNumber("limit", mcp.Description("Page size"), mcp.Min(1), mcp.Max(maxRetrieveSize)),
			mcp.WithNumber("offset", mcp.Description("Number of documents to skip"), mcp.Min(0)),
			mcp.WithObject("filters", mcp.Description("Provider-side metadata filters")),
		),
		mcpRetrieveDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("get_processing_status",
			mcp.WithDescription("Poll the processing status of an uploaded document once."),
			mcp.WithString("document_id", mcp.Description("Document id returned by an upload"), mcp.Required()),
		),
		mcpProcessingStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("create_folder",
			mcp.WithDescription("Create a provider folder. Creating an existing folder fails with the provider's conflict."),
			mcp.WithString("name", mcp.Description("Folder name"), mcp.Required()),
			mcp.WithString("description", mcp.Description("Folder description")),
		),
		mcpCreateFolder(deps),
	)

	s.AddTool(
		mcp.NewTool("get_folder",
			mcp.WithDescription("Look up a provider folder. A missing folder is a successful result with found=false."),
			mcp.WithString("name", mcp.Description("Folder name"), mcp.Required()),
		),
		mcpGetFolder(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_folder",
			mcp.WithDescription("Delete a provider folder."),
			mcp.WithString("name", mcp.Description("Folder name"), mcp.Required()),
		),
		mcpDeleteFolder(deps),
	)

	if deps.Uploads != nil {
		s.AddResource(
			mcp.NewResource(
				"docgate://uploads/recent",
				"Recent uploads",
				mcp.WithResourceDescription("Last 20 uploads recorded by this gateway with their processing status"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceRecentUploads(deps),
		)
	}

	return s
}

// toolCall wraps one tool invocation with its deadline and state tracking.
func toolCall(ctx context.Context, deps MCPDeps, op string, upload bool) (context.Context, context.CancelFunc, *tracker) {
	ctx, cancel := context.WithTimeout(ctx, deps.timeout(upload))
	t := newTracker(deps.logger(), "mcp", op, "")
	t.validating()
	return ctx, cancel, t
}

func mcpUploadFile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, cancel, t := toolCall(ctx, deps, "upload_file", true)
		defer cancel()

		args := req.GetArguments()
		file, ge := toolFile(args)
		if ge == nil {
			ge = checkFolder(req.GetString("folder", ""))
		}
		if ge != nil {
			return mcpFailure(t.rejected(ge)), nil
		}

		result, err := deps.Gateway.UploadFile(t.dispatch(ctx), file, req.GetString("folder", ""))
		t.finish(err)
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpSuccess(result), nil
	}
}

// mcpUploadFiles reports success whenever the batch ran; per-file outcomes
// are in the result. An unconfigured provider fails the whole call.
func mcpUploadFiles(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, cancel, t := toolCall(ctx, deps, "upload_files", true)
		defer cancel()

		raw, ok := req.GetArguments()["files"].([]any)
		if !ok || len(raw) == 0 {
			return mcpFailure(t.rejected(provider.NewValidationError("files must be a non-empty array"))), nil
		}
		if len(raw) > maxBatchFiles {
			return mcpFailure(t.rejected(provider.NewValidationError("at most %d files per call, got %d", maxBatchFiles, len(raw)))), nil
		}
		folder := req.GetString("folder", "")
		if ge := checkFolder(folder); ge != nil {
			return mcpFailure(t.rejected(ge)), nil
		}

		files := make([]gateway.FileUpload, len(raw))
		for i, item := range raw {
			obj, ok := item.(map[string]any)
			if !ok {
				return mcpFailure(t.rejected(provider.NewValidationError("files[%d] must be an object", i))), nil
			}
			f, ge := toolFile(obj)
			if ge != nil {
				ge.Message = fmt.Sprintf("files[%d]: %s", i, ge.Message)
				return mcpFailure(t.rejected(ge)), nil
			}
			files[i] = f
		}

		if err := deps.Gateway.CheckConfigured(); err != nil {
			t.finish(err)
			return mcpFailure(err), nil
		}

		result := deps.Gateway.UploadFiles(t.dispatch(ctx), files, folder)
		t.finishBatch(result)
		return mcpSuccess(result), nil
	}
}

func mcpAgentQuery(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, cancel, t := toolCall(ctx, deps, "agent_query", false)
		defer cancel()

		query, err := req.RequireString("query")
		if err != nil {
			return mcpFailure(t.rejected(provider.NewValidationError("query is required"))), nil
		}
		args := req.GetArguments()
		opts := gateway.QueryOptions{
			Folder: req.GetString("folder", ""),
			ChatID: req.GetString("chat_id", ""),
			UserID: req.GetString("user_id", ""),
		}
		if _, ok := args["temperature"]; ok {
			temp, err := req.RequireFloat("temperature")
			if err != nil {
				return mcpFailure(t.rejected(provider.NewValidationError("temperature must be a number"))), nil
			}
			opts.Temperature = &temp
		}
		if _, ok := args["max_tokens"]; ok {
			n, err := req.RequireInt("max_tokens")
			if err != nil {
				return mcpFailure(t.rejected(provider.NewValidationError("max_tokens must be an integer"))), nil
			}
			opts.MaxTokens = &n
		}
		if ge := checkQuery(query, opts); ge != nil {
			return mcpFailure(t.rejected(ge)), nil
		}

		resp, err := deps.Gateway.AgentQuery(t.dispatch(ctx), query, opts)
		t.finish(err)
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpSuccess(resp), nil
	}
}

func mcpRetrieveDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, cancel, t := toolCall(ctx, deps, "retrieve_documents", false)
		defer cancel()

		args := req.GetArguments()
		opts := gateway.RetrieveOptions{
			Query:  req.GetString("query", ""),
			Folder: req.GetString("folder", ""),
			Offset: req.GetInt("offset", 0),
		}
		if _, ok := args["limit"]; ok {
			opts.Limit = req.GetInt("limit", 0)
			if opts.Limit < 1 {
				return mcpFailure(t.rejected(provider.NewValidationError("limit must be at least 1"))), nil
			}
		}
		if f, ok := args["filters"]; ok && f != nil {
			filters, ok := f.(map[string]any)
			if !ok {
				return mcpFailure(t.rejected(provider.NewValidationError("filters must be an object"))), nil
			}
			opts.Filters = filters
		}
		if ge := checkRetrieve(opts); ge != nil {
			return mcpFailure(t.rejected(ge)), nil
		}

		docs, err := deps.Gateway.RetrieveDocuments(t.dispatch(ctx), opts)
		t.finish(err)
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpSuccess(retrieveResponse{
			Documents: docs,
			HasMore:   gateway.HasMore(len(docs), opts.Limit),
		}), nil
	}
}

func mcpProcessingStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, cancel, t := toolCall(ctx, deps, "get_processing_status", false)
		defer cancel()

		id := req.GetString("document_id", "")
		if ge := checkRequired("document_id", id); ge != nil {
			return mcpFailure(t.rejected(ge)), nil
		}

		st, err := deps.Gateway.GetProcessingStatus(t.dispatch(ctx), id)
		t.finish(err)
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpSuccess(st), nil
	}
}

func mcpCreateFolder(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, cancel, t := toolCall(ctx, deps, "create_folder", false)
		defer cancel()

		name, ge := folderArg(req)
		if ge != nil {
			return mcpFailure(t.rejected(ge)), nil
		}

		info, err := deps.Gateway.CreateFolder(t.dispatch(ctx), name, req.GetString("description", ""))
		t.finish(err)
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpSuccess(info), nil
	}
}

type folderLookup struct {
	Found  bool                 `json:"found"`
	Folder *provider.FolderInfo `json:"folder,omitempty"`
}

func mcpGetFolder(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, cancel, t := toolCall(ctx, deps, "get_folder", false)
		defer cancel()

		name, ge := folderArg(req)
		if ge != nil {
			return mcpFailure(t.rejected(ge)), nil
		}

		info, err := deps.Gateway.GetFolderInfo(t.dispatch(ctx), name)
		t.finish(err)
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpSuccess(folderLookup{Found: info != nil, Folder: info}), nil
	}
}

func mcpDeleteFolder(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, cancel, t := toolCall(ctx, deps, "delete_folder", false)
		defer cancel()

		name, ge := folderArg(req)
		if ge != nil {
			return mcpFailure(t.rejected(ge)), nil
		}

		err := deps.Gateway.DeleteFolder(t.dispatch(ctx), name)
		t.finish(err)
		if err != nil {
			return mcpFailure(err), nil
		}
		return mcpSuccess(map[string]string{"name": name, "status": "deleted"}), nil
	}
}

func mcpResourceRecentUploads(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		uploads, err := deps.Uploads.Uploads(20, "")
		if err != nil {
			return nil, fmt.Errorf("failed to list uploads: %w", err)
		}

		b, err := json.Marshal(uploads)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal uploads: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func folderArg(req mcp.CallToolRequest) (string, *provider.GatewayError) {
	name := req.GetString("name", "")
	if ge := checkRequired("name", name); ge != nil {
		return "", ge
	}
	return name, checkFolder(name)
}

// toolFile builds a FileUpload from a tool argument object.
func toolFile(args map[string]any) (gateway.FileUpload, *provider.GatewayError) {
	name, _ := args["name"].(string)
	if ge := checkRequired("name", name); ge != nil {
		return gateway.FileUpload{}, ge
	}
	if ge := checkPrintable("name", name); ge != nil {
		return gateway.FileUpload{}, ge
	}
	content, ok := args["content"].(string)
	if !ok {
		return gateway.FileUpload{}, provider.NewValidationError("content is required")
	}

	encoding, _ := args["encoding"].(string)
	var data []byte
	switch encoding {
	case "", "base64":
		decoded, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return gateway.FileUpload{}, provider.NewValidationError("content of %s is not valid base64: %v", name, err)
		}
		data = decoded
	case "text":
		data = []byte(content)
	default:
		return gateway.FileUpload{}, provider.NewValidationError("encoding must be base64 or text, got %q", encoding)
	}

	f := gateway.FileUpload{Name: name, Content: data}
	f.MIMEType, _ = args["mime_type"].(string)
	if ge := checkPrintable("mime_type", f.MIMEType); ge != nil {
		return gateway.FileUpload{}, ge
	}
	if m, ok := args["metadata"]; ok && m != nil {
		meta, ok := m.(map[string]any)
		if !ok {
			return gateway.FileUpload{}, provider.NewValidationError("metadata of %s must be an object", name)
		}
		f.Metadata = meta
	}
	return f, nil
}

func mcpSuccess(result any) *mcp.CallToolResult {
	return mcpJSON(toolEnvelope{Success: true, Result: result}, false)
}

// mcpFailure turns any error into the failure envelope. It never returns a
// Go error to the MCP runtime.
func mcpFailure(err error) *mcp.CallToolResult {
	ge := provider.AsGatewayError(err)
	_, code := statusFor(ge)
	return mcpJSON(toolEnvelope{Error: &errorDetail{
		Code:     code,
		Kind:     ge.Kind,
		Status:   ge.Status,
		Message:  ge.Message,
		Attempts: ge.Attempts,
	}}, true)
}

func mcpJSON(env toolEnvelope, isError bool) *mcp.CallToolResult {
	b, err := json.Marshal(env)
	if err != nil {
		b = []byte(`{"success":false,"error":{"code":"` + codeInternal + `","message":"failed to encode result"}}`)
		isError = true
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: string(b)},
		},
		IsError: isError,
	}
}
