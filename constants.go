package nio

import "github.com/behrlich/go-nio/internal/constants"

// Re-exported tuning constants, for callers that want to reference the
// library's defaults (e.g. to size their own buffers relative to
// DefaultReadBufferSize) without reaching into internal/constants.
const (
	DefaultReadBufferSize    = constants.DefaultReadBufferSize
	DefaultSendBufferSize    = constants.DefaultSendBufferSize
	DefaultReceiveBufferSize = constants.DefaultReceiveBufferSize
	DefaultReactorPoolSize   = constants.DefaultReactorPoolSize
	AcceptBacklog            = constants.AcceptBacklog
)
