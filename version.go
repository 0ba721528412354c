package treasury

import (
	"fmt"
	"runtime"
)

// Build information, overridden at link time with -ldflags "-X".
var (
	CurrentVersion = "v0.1.0"
	CurrentBranch  = "main"
	CurrentCommit  = "unknown"
	BuildDate      = "unknown"

	Platform  = fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
	GoVersion = runtime.Version()
)
