package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/voxbar/internal/focus"
	"github.com/kalambet/voxbar/internal/improve"
	"github.com/kalambet/voxbar/internal/interactions"
	"github.com/kalambet/voxbar/internal/profile"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Logs      *interactions.Store
	Profile   *profile.Manager
	Scheduler *improve.Scheduler
	Version   string
}

// NewMCPServer creates an MCP server with all voxbar tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"voxbar",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("voxbar learns how the user dictates and keeps its dictation and prompt instructions up to date."),
		server.WithRecovery(),
	)

	areaNames := make([]string, 0, len(focus.Areas()))
	for _, a := range focus.Areas() {
		areaNames = append(areaNames, string(a))
	}
	modeNames := make([]string, 0, len(focus.Modes()))
	for _, m := range focus.Modes() {
		modeNames = append(modeNames, string(m))
	}

	// Tools
	s.AddTool(
		mcp.NewTool("log_interaction",
			mcp.WithDescription("Record a completed dictation or prompt interaction so future improvements can learn from it."),
			mcp.WithString("mode", mcp.Description("Interaction mode"), mcp.Enum(modeNames...), mcp.Required()),
			mcp.WithObject("fields", mcp.Description("String fields of the interaction, e.g. transcript and output")),
		),
		mcpLogInteraction(deps),
	)

	s.AddTool(
		mcp.NewTool("get_focus_value",
			mcp.WithDescription("Return the current and previous value of a focus area."),
			mcp.WithString("area", mcp.Description("Focus area"), mcp.Enum(areaNames...), mcp.Required()),
		),
		mcpGetFocusValue(deps),
	)

	s.AddTool(
		mcp.NewTool("restore_focus",
			mcp.WithDescription("Swap a focus area's current value with its previous value. Calling it twice redoes the change."),
			mcp.WithString("area", mcp.Description("Focus area"), mcp.Enum(areaNames...), mcp.Required()),
		),
		mcpRestoreFocus(deps),
	)

	s.AddTool(
		mcp.NewTool("run_improvement",
			mcp.WithDescription("Run an improvement sweep now, ignoring the dictation threshold and cooldown."),
		),
		mcpRunImprovement(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"voxbar://focus",
			"Focus Values",
			mcp.WithResourceDescription("Current value of every focus area as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceFocus(deps),
	)

	return s
}

func mcpLogInteraction(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		modeName, err := req.RequireString("mode")
		if err != nil {
			return mcpError("mode is required"), nil
		}
		mode, err := focus.ParseMode(modeName)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		fields := map[string]string{}
		if raw, ok := req.GetArguments()["fields"].(map[string]any); ok {
			for k, v := range raw {
				switch v := v.(type) {
				case string:
					fields[k] = v
				case nil:
				default:
					fields[k] = fmt.Sprint(v)
				}
			}
		}

		rec := deps.Logs.Append(interactions.Record{Mode: mode, Fields: fields})
		deps.Scheduler.NotifyOperationCompleted(ctx)

		return mcpText(fmt.Sprintf("Logged %s interaction %s", mode, rec.ID)), nil
	}
}

func mcpArea(req mcp.CallToolRequest) (focus.Area, *mcp.CallToolResult) {
	name, err := req.RequireString("area")
	if err != nil {
		return "", mcpError("area is required")
	}
	area, err := focus.ParseArea(name)
	if err != nil {
		return "", mcpError(err.Error())
	}
	return area, nil
}

func mcpGetFocusValue(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		area, errResult := mcpArea(req)
		if errResult != nil {
			return errResult, nil
		}
		entry, err := deps.Profile.Entry(area)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read %s: %v", area, err)), nil
		}
		b, err := json.Marshal(entry)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal entry: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRestoreFocus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		area, errResult := mcpArea(req)
		if errResult != nil {
			return errResult, nil
		}
		restored, err := deps.Scheduler.Restore(area)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to restore %s: %v", area, err)), nil
		}
		if !restored {
			return mcpText(fmt.Sprintf("%s has no previous value", area.Label())), nil
		}
		return mcpText(fmt.Sprintf("Restored %s", area.Label())), nil
	}
}

func mcpRunImprovement(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sum, err := deps.Scheduler.RunNow(ctx)
		if err != nil && !errors.Is(err, improve.ErrSweepFailed) {
			return mcpError(err.Error()), nil
		}
		b, merr := json.Marshal(sum)
		if merr != nil {
			return mcpError(fmt.Sprintf("failed to marshal summary: %v", merr)), nil
		}
		if err != nil {
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(b)}},
				IsError: true,
			}, nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceFocus(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		entries, err := deps.Profile.Entries()
		if err != nil {
			return nil, fmt.Errorf("failed to read focus values: %w", err)
		}

		b, err := json.Marshal(entries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal focus values: %w", err)
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
