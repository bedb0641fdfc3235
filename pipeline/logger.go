package pipeline

import (
	"log/slog"

	"github.com/gogpu/g3d"
)

// logger returns the g3d logger, so g3d.SetLogger configures this
// package too.
func logger() *slog.Logger { return g3d.Logger() }
