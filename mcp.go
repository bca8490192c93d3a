package mssqlmcp

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterMCPTools registers every catalogued operation as an MCP tool on
// the given server, routed through the dispatcher. In read-only mode only
// read-eligible operations are advertised.
func RegisterMCPTools(mcpServer *server.MCPServer, d *Dispatcher) {
	ops := d.Operations()
	sort.Slice(ops, func(i, j int) bool { return ops[i].Spec.Name < ops[j].Spec.Name })

	for _, op := range ops {
		spec := op.Spec
		tool := toolForOperation(spec)
		mcpServer.AddTool(tool, d.loggedToolHandler(spec.Name, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			resp := d.Dispatch(ctx, Request{Operation: spec.Name, Args: Args(req.GetArguments())})
			if !resp.Success {
				return mcp.NewToolResultError(string(resp.ErrorKind) + ": " + resp.ErrorMessage), nil
			}
			jsonBytes, err := json.Marshal(resp.Payload)
			if err != nil {
				return mcp.NewToolResultError("failed to marshal result"), nil
			}
			return mcp.NewToolResultText(string(jsonBytes)), nil
		}))
	}
}

// toolForOperation declares the MCP input schema for one operation.
func toolForOperation(spec OperationSpec) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(spec.Description)}
	if spec.Kind == Read {
		opts = append(opts, mcp.WithReadOnlyHintAnnotation(true))
	}

	switch spec.Name {
	case "describe_table":
		opts = append(opts,
			mcp.WithString("table", mcp.Required(), mcp.Description("Table name, optionally schema-qualified (defaults to dbo)")),
			mcp.WithString("schema", mcp.Description("Schema name override")),
		)
	case "run_query":
		opts = append(opts,
			mcp.WithString("query", mcp.Required(), mcp.Description("The T-SQL statement to execute")),
		)
	case "read_data":
		opts = append(opts,
			mcp.WithString("table", mcp.Required(), mcp.Description("Table to read from")),
			mcp.WithArray("columns", mcp.Description("Columns to return; all columns when omitted")),
			mcp.WithString("where", mcp.Description("Filter predicate, e.g. \"Id = 1\"")),
			mcp.WithString("order_by", mcp.Description("Column to order by, optionally with DESC")),
			mcp.WithNumber("limit", mcp.Description("Maximum rows to return")),
		)
	case "insert_data":
		opts = append(opts,
			mcp.WithString("table", mcp.Required(), mcp.Description("Table to insert into")),
			mcp.WithObject("values", mcp.Required(), mcp.Description("Column/value pairs for the new row")),
		)
	case "update_data":
		opts = append(opts,
			mcp.WithString("table", mcp.Required(), mcp.Description("Table to update")),
			mcp.WithObject("set", mcp.Required(), mcp.Description("Column/value pairs to set")),
			mcp.WithString("where", mcp.Required(), mcp.Description("Filter predicate selecting the rows to update")),
		)
	case "create_table":
		opts = append(opts,
			mcp.WithString("table", mcp.Required(), mcp.Description("Name of the table to create")),
			mcp.WithArray("columns", mcp.Required(), mcp.Description("Column definitions: objects with name, type, and optional nullable/primary_key")),
		)
	case "create_index":
		opts = append(opts,
			mcp.WithString("table", mcp.Required(), mcp.Description("Table to index")),
			mcp.WithString("index", mcp.Required(), mcp.Description("Name of the index to create")),
			mcp.WithArray("columns", mcp.Required(), mcp.Description("Columns covered by the index")),
			mcp.WithBoolean("unique", mcp.Description("Create a UNIQUE index")),
		)
	case "drop_table":
		opts = append(opts,
			mcp.WithString("table", mcp.Required(), mcp.Description("Table to drop")),
		)
	}

	return mcp.NewTool(spec.Name, opts...)
}

// loggedToolHandler wraps a tool handler to log request and response sizes.
func (d *Dispatcher) loggedToolHandler(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reqLen := requestLength(req)
		result, err := handler(ctx, req)
		respLen := resultLength(result)
		d.logger.Debug().
			Str("tool", tool).
			Int("request_bytes", reqLen).
			Int("response_bytes", respLen).
			Msg("tool call")
		return result, err
	}
}

// requestLength returns the JSON-encoded byte length of the request arguments.
func requestLength(req mcp.CallToolRequest) int {
	args := req.GetArguments()
	if len(args) == 0 {
		return 0
	}
	b, err := json.Marshal(args)
	if err != nil {
		return 0
	}
	return len(b)
}

// resultLength returns the total byte length of text content in a CallToolResult.
func resultLength(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	total := 0
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			total += len(tc.Text)
		}
	}
	return total
}
