package mcp

import (
	"context"
	"os"
	"time"

	"gtaf/internal/logging"
)

// ParentPollInterval is how often WatchStdin checks the parent pid.
var ParentPollInterval = 2 * time.Second

// WatchStdin cancels the server when the parent process goes away, so a
// stdio server orphaned by its client does not linger.
//
// It must not read stdin: the SDK's StdioTransport owns it, and stolen
// bytes would corrupt the JSON-RPC stream.
//
// The goroutine exits when ctx is canceled or parent death is detected.
func WatchStdin(ctx context.Context, _ any, cancelFn context.CancelFunc) {
	ppid := os.Getppid()
	logger := logging.New("mcp")
	go func() {
		t := time.NewTicker(ParentPollInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if os.Getppid() != ppid {
					logger.Warn("parent process died, shutting down", "ppid", ppid)
					cancelFn()
					return
				}
			}
		}
	}()
}
