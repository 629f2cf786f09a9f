package tools

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/bodycache"
	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/coordinator"
	"github.com/brandon/mailsync/internal/engine"
	"github.com/brandon/mailsync/internal/worker"
	"github.com/brandon/mailsync/pkg/types"
)

// Service is the engine surface the tools call
type Service interface {
	SyncStatus(ctx context.Context) (*engine.Status, error)
	TriggerSync(ctx context.Context) (*worker.Task, error)
	SyncAccount(ctx context.Context, name string, cycle coordinator.Cycle) (*coordinator.AccountResult, error)
	SyncUserAccounts(ctx context.Context, userID string) (*worker.Task, error)
	GetEmail(ctx context.Context, emailID int64) (*types.Email, *bodycache.Body, error)
	Search(ctx context.Context, userID string, opts cache.SearchOptions) (*types.SearchResult, error)
	Suggestions(ctx context.Context, userID, prefix string) ([]types.Suggestion, error)
	PopularSearches(ctx context.Context, userID string) ([]types.PopularSearch, error)
	Folders(ctx context.Context, account string) ([]types.Folder, error)
	AccountID(ctx context.Context, name string) (int64, error)
}

// Registry manages MCP tools
type Registry struct {
	logger *logrus.Logger
	tools  map[string]Tool
}

// Tool represents an MCP tool
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, params map[string]interface{}) (interface{}, error)
}

// NewRegistry creates a registry holding every tool backed by svc
func NewRegistry(svc Service, logger *logrus.Logger) *Registry {
	reg := &Registry{
		logger: logger,
		tools:  make(map[string]Tool),
	}

	toolList := []Tool{
		&syncStatusTool{svc: svc},
		&triggerSyncTool{svc: svc},
		&syncUserTool{svc: svc},
		&getEmailTool{svc: svc, logger: logger},
		&searchEmailsTool{svc: svc},
		&suggestionsTool{svc: svc},
		&popularSearchesTool{svc: svc},
		&listFoldersTool{svc: svc},
	}
	for _, tool := range toolList {
		reg.tools[tool.Name()] = tool
		logger.WithField("tool", tool.Name()).Debug("Registered tool")
	}

	logger.WithField("count", len(reg.tools)).Info("Registered tools")
	return reg
}

// GetTool returns a tool by name
func (r *Registry) GetTool(name string) (Tool, bool) {
	tool, exists := r.tools[name]
	return tool, exists
}

// ListTools returns all registered tools ordered by name
func (r *Registry) ListTools() []Tool {
	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// GetToolDefinitions returns tool definitions for MCP
func (r *Registry) GetToolDefinitions() []map[string]interface{} {
	tools := r.ListTools()
	definitions := make([]map[string]interface{}, 0, len(tools))
	for _, tool := range tools {
		definitions = append(definitions, map[string]interface{}{
			"name":        tool.Name(),
			"description": tool.Description(),
			"inputSchema": tool.InputSchema(),
		})
	}
	return definitions
}
