// Package service provides the tool registry.
//
// Providers register a types.Service describing their tools; callers
// execute tools by id ("terminal.write") with loosely typed parameters, the
// shape agent frameworks use for tool calls. Discover ranks services
// against a free-text intent.
//
// Example Usage:
//
//	registry := service.NewRegistry()
//	registry.Register(terminal.NewProvider(sessions, cmd, terminal.DefaultSize()))
//	result, err := registry.Execute(ctx, "terminal.read", params, appCtx)
package service
