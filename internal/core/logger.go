package core

import (
	"log/slog"

	"github.com/gogpu/rhi"
)

// slogger returns the rhi logger.
// All logging in internal/core goes through this function so SetLogger
// takes effect without reconfiguring backends.
func slogger() *slog.Logger { return rhi.Logger() }
