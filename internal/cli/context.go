package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mrz1836/sybilscan/internal/config"
	"github.com/mrz1836/sybilscan/internal/output"
)

// CommandContext holds dependencies for CLI commands.
type CommandContext struct {
	Cfg *config.Config
	Log *config.Logger
	Fmt *output.Formatter
}

type cmdContextKey struct{}

// NewCommandContext creates a context with the given dependencies.
func NewCommandContext(c *config.Config, l *config.Logger, f *output.Formatter) *CommandContext {
	return &CommandContext{
		Cfg: c,
		Log: l,
		Fmt: f,
	}
}

// SetCmdContext attaches cc to the command's context.
func SetCmdContext(cmd *cobra.Command, cc *CommandContext) {
	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	cmd.SetContext(context.WithValue(base, cmdContextKey{}, cc))
}

// GetCmdContext returns the CommandContext attached to cmd, or nil.
func GetCmdContext(cmd *cobra.Command) *CommandContext {
	ctx := cmd.Context()
	if ctx == nil {
		return nil
	}
	cc, _ := ctx.Value(cmdContextKey{}).(*CommandContext)
	return cc
}

// commandContext returns the command's context, falling back to Background.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
