//go:build !linux

package platformx

import (
	"github.com/m-lab/netprobe-server/logging"
)

func maybeEmitWarning() bool {
	logging.Logger.Warn("This platform has no /proc/net/dev. The tx rate limit will not be available.")
	return false
}
