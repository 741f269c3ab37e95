// Package spec contains constants shared by the netprobe server and client.
package spec

import "time"

// DownloadURLPath selects the download probe.
const DownloadURLPath = "/download"

// UploadURLPath selects the upload probe.
const UploadURLPath = "/upload"

// MeasureURLPath is where clients submit latency samples.
const MeasureURLPath = "/measure"

// MeasuresURLPath returns every latency sample stored so far.
const MeasuresURLPath = "/measures"

// SessionURLPath selects the WebSocket latency session.
const SessionURLPath = "/ws"

// DefaultPort is the port used when the configured one is absent or invalid.
const DefaultPort = 3000

// DefaultChunkSize is the size of a single download chunk.
const DefaultChunkSize = 1 << 20

// DefaultChunkCount is the number of chunks in a download probe.
const DefaultChunkCount = 100

const (
	// ProfilePaced waits before every download chunk.
	ProfilePaced = "paced"

	// ProfileUnpaced sends download chunks as fast as the transport allows.
	ProfileUnpaced = "unpaced"
)

// Profiles maps a deployment profile to the delay preceding each chunk.
var Profiles = map[string]time.Duration{
	ProfilePaced:   50 * time.Millisecond,
	ProfileUnpaced: 0,
}

// ChunkWriteTimeout bounds the time spent writing a single download chunk.
const ChunkWriteTimeout = 30 * time.Second

// UploadBufferSize is the size of the buffer used to drain upload bodies.
const UploadBufferSize = 1 << 16

// MaxSampleBodySize is the largest accepted sample submission body.
const MaxSampleBodySize = 4096

// MaxSessionMessageSize is the largest frame accepted on a session. Larger
// frames terminate the session.
const MaxSessionMessageSize = 1 << 20

// DefaultSessionIdleTimeout closes sessions that stay silent for too long.
const DefaultSessionIdleTimeout = 60 * time.Second

// SessionWriteTimeout bounds the time spent writing a single reply.
const SessionWriteTimeout = 10 * time.Second

// SessionReplyQueue is the number of replies that may wait for the sender.
// The receiver stops reading while the queue is full.
const SessionReplyQueue = 16

// TerminationPollInterval is how often a running download checks whether
// it has been aborted remotely.
const TerminationPollInterval = 100 * time.Millisecond

// ProbeIDParameterName is the query parameter clients use to name a probe.
const ProbeIDParameterName = "id"

// ProbeIDHeader carries the probe id back to the client.
const ProbeIDHeader = "X-Probe-Id"
