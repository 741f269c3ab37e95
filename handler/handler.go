// Package handler implements the HTTP surface of the netprobe server: the
// download and upload probes, sample submission and listing, and the
// WebSocket latency session.
package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/m-lab/netprobe-server/download"
	"github.com/m-lab/netprobe-server/logging"
	"github.com/m-lab/netprobe-server/metrics"
	"github.com/m-lab/netprobe-server/redis"
	"github.com/m-lab/netprobe-server/samples"
	"github.com/m-lab/netprobe-server/session"
	"github.com/m-lab/netprobe-server/spec"
	"github.com/m-lab/netprobe-server/upload"
)

// Sample fields are matched exactly, so misspelled keys count as missing.
var json = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	CaseSensitive:          true,
}.Froze()

var validate = validator.New()

// Coordinator shares probe state with other processes. The redis Client
// implements it.
type Coordinator interface {
	GetTerminationFlag(ctx context.Context, id string) (int, error)
	SetSummary(ctx context.Context, s *redis.Summary) error
}

// Handler serves the netprobe endpoints. Use New to get one with the
// default configuration.
type Handler struct {
	// Store receives the samples submitted to the measure endpoint.
	Store *samples.Store

	// DownloadParams shapes every download probe.
	DownloadParams download.Params

	// MaxUploadBytes caps the upload body. Zero means no cap.
	MaxUploadBytes int64

	// Upgrader is the WebSocket upgrader used by the session endpoint.
	Upgrader websocket.Upgrader

	// SessionConfig bounds every latency session.
	SessionConfig session.Config

	// Coordinator is optional. When set, downloads can be aborted remotely
	// and download and upload summaries are recorded.
	Coordinator Coordinator
}

// New returns a Handler storing samples in store, with the paced download
// profile and the default session configuration.
func New(store *samples.Store) *Handler {
	return &Handler{
		Store: store,
		DownloadParams: download.Params{
			ChunkSize:  spec.DefaultChunkSize,
			ChunkCount: spec.DefaultChunkCount,
			Delay:      spec.Profiles[spec.ProfilePaced],
		},
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  spec.UploadBufferSize,
			WriteBufferSize: spec.UploadBufferSize,
			// Sessions are served to any page, like the other endpoints.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		SessionConfig: session.DefaultConfig(),
	}
}

// warnAndClose emits message as a warning and then sends a Bad Request
// response to the client using writer.
func warnAndClose(writer http.ResponseWriter, logger log.Interface, message string) {
	logger.Warn(message)
	writer.Header().Set("Connection", "Close")
	writer.WriteHeader(http.StatusBadRequest)
}

// probeID returns the id chosen by the client, or a fresh one.
func probeID(r *http.Request) string {
	if id := r.URL.Query().Get(spec.ProbeIDParameterName); id != "" {
		return id
	}
	return uuid.NewString()
}

func writeText(w http.ResponseWriter, code int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	io.WriteString(w, text)
}

// chunkWriter bounds every chunk write with a deadline and flushes it
// through to the client. Deadlines are best effort: wrapped writers that
// hide the connection only get the flush.
type chunkWriter struct {
	w  io.Writer
	rc *http.ResponseController
}

func (cw *chunkWriter) Write(p []byte) (int, error) {
	err := cw.rc.SetWriteDeadline(time.Now().Add(spec.ChunkWriteTimeout)) // Liveness!
	if err != nil && !errors.Is(err, http.ErrNotSupported) {
		return 0, err
	}
	return cw.w.Write(p)
}

func (cw *chunkWriter) Flush() {
	cw.rc.Flush()
}

// checkEarlyTermination polls the coordinator until ctx is done and calls
// cancel as soon as the probe is flagged for termination.
func (h *Handler) checkEarlyTermination(ctx context.Context, id string, cancel context.CancelFunc) {
	ticker := time.NewTicker(spec.TerminationPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		flag, err := h.Coordinator.GetTerminationFlag(ctx, id)
		if err != nil {
			if ctx.Err() == nil {
				logging.ForProbe("download", id).WithError(err).Debug("cannot read termination flag")
			}
			continue
		}
		if flag == 1 {
			logging.ForProbe("download", id).Info("terminated remotely")
			cancel()
			return
		}
	}
}

func (h *Handler) recordSummary(kind, id, result string, n int64, start time.Time) {
	if h.Coordinator == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := h.Coordinator.SetSummary(ctx, &redis.Summary{
		ID:        id,
		Kind:      kind,
		Result:    result,
		Bytes:     n,
		StartTime: start,
		EndTime:   time.Now(),
	})
	if err != nil {
		logging.ForProbe(kind, id).WithError(err).Warn("cannot record summary")
	}
}

func observeRate(direction string, n int64, elapsed time.Duration) {
	metrics.ProbeBytes.WithLabelValues(direction).Add(float64(n))
	if elapsed > 0 {
		mbps := float64(n) * 8 / elapsed.Seconds() / 1e6
		metrics.ProbeRate.WithLabelValues(direction).Observe(mbps)
	}
}

// Download streams DownloadParams.ChunkCount chunks to the client.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	id := probeID(r)
	logger := logging.ForProbe("download", id)
	if err := h.DownloadParams.Validate(); err != nil {
		logger.WithError(err).Error("invalid download configuration")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	metrics.ActiveProbes.WithLabelValues("download").Inc()
	defer metrics.ActiveProbes.WithLabelValues("download").Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	if h.Coordinator != nil {
		go h.checkEarlyTermination(ctx, id, cancel)
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "application/octet-stream")
	hdr.Set("Content-Length", strconv.FormatInt(h.DownloadParams.TotalBytes(), 10))
	hdr.Set("Cache-Control", "no-store")
	hdr.Set(spec.ProbeIDHeader, id)
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	start := time.Now()
	n, err := download.Open(h.DownloadParams).Send(ctx, &chunkWriter{w: w, rc: rc})
	elapsed := time.Since(start)
	// Do not leave a stale deadline on a connection that may be reused.
	rc.SetWriteDeadline(time.Time{})

	result := "ok"
	switch {
	case err == nil:
		logger.WithFields(log.Fields{"bytes": n, "elapsed": elapsed.String()}).Debug("download complete")
	case r.Context().Err() == nil && ctx.Err() != nil:
		result = "aborted"
		logger.WithField("bytes", n).Info("download aborted")
	default:
		result = "canceled"
		logger.WithError(err).WithField("bytes", n).Debug("download canceled")
	}
	metrics.ProbeCount.WithLabelValues("download", result).Inc()
	observeRate("download", n, elapsed)
	h.recordSummary("download", id, result, n, start)
}

// Upload reads and discards the request body, then replies "OK".
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	id := probeID(r)
	logger := logging.ForProbe("upload", id)
	metrics.ActiveProbes.WithLabelValues("upload").Inc()
	defer metrics.ActiveProbes.WithLabelValues("upload").Dec()

	body := io.Reader(r.Body)
	if h.MaxUploadBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	}
	w.Header().Set(spec.ProbeIDHeader, id)
	start := time.Now()
	n, err := upload.Receive(r.Context(), body)
	elapsed := time.Since(start)
	observeRate("upload", n, elapsed)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.WithField("limit", tooLarge.Limit).Warn("upload too large")
			metrics.ProbeCount.WithLabelValues("upload", "too-large").Inc()
			h.recordSummary("upload", id, "too-large", n, start)
			w.Header().Set("Connection", "Close")
			writeText(w, http.StatusRequestEntityTooLarge, "Payload Too Large")
			return
		}
		metrics.ProbeCount.WithLabelValues("upload", "canceled").Inc()
		h.recordSummary("upload", id, "canceled", n, start)
		warnAndClose(w, logger.WithError(err), "upload: cannot read body")
		return
	}
	logger.WithFields(log.Fields{"bytes": n, "elapsed": elapsed.String()}).Debug("upload complete")
	metrics.ProbeCount.WithLabelValues("upload", "ok").Inc()
	h.recordSummary("upload", id, "ok", n, start)
	writeText(w, http.StatusOK, "OK")
}

// submission is the body accepted by Measure. Pointers tell missing fields
// apart from zero values.
type submission struct {
	Timestamp *int64   `json:"timestamp" validate:"required"`
	PingMs    *float64 `json:"ping_ms" validate:"required,gte=0"`
}

func parseSample(r io.Reader) (samples.Sample, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return samples.Sample{}, err
	}
	var s submission
	if err := json.Unmarshal(data, &s); err != nil {
		return samples.Sample{}, err
	}
	if err := validate.Struct(&s); err != nil {
		return samples.Sample{}, err
	}
	return samples.Sample{Timestamp: *s.Timestamp, PingMs: *s.PingMs}, nil
}

// Measure stores the sample in the request body. Any malformed body is
// rejected with "Invalid JSON" and leaves the store unchanged.
func (h *Handler) Measure(w http.ResponseWriter, r *http.Request) {
	sample, err := parseSample(http.MaxBytesReader(w, r.Body, spec.MaxSampleBodySize))
	if err != nil {
		logging.Logger.WithError(err).Debug("measure: rejected submission")
		metrics.SampleSubmissions.WithLabelValues("invalid").Inc()
		writeText(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	h.Store.Append(sample)
	metrics.SampleSubmissions.WithLabelValues("ok").Inc()
	metrics.SamplesStored.Set(float64(h.Store.Len()))
	writeText(w, http.StatusOK, "Measurement saved")
}

// Measures replies with every stored sample as a JSON array.
func (h *Handler) Measures(w http.ResponseWriter, r *http.Request) {
	data, err := json.Marshal(h.Store.Snapshot())
	if err != nil {
		logging.Logger.WithError(err).Error("measures: cannot marshal samples")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Session upgrades the connection and runs a latency session on it.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	id := probeID(r)
	logger := logging.ForProbe("session", id)
	if !websocket.IsWebSocketUpgrade(r) {
		warnAndClose(w, logger, "session: not a websocket upgrade")
		return
	}
	if r.Header.Get("Sec-WebSocket-Key") == "" {
		warnAndClose(w, logger, "session: missing Sec-WebSocket-Key")
		return
	}
	headers := http.Header{}
	headers.Set(spec.ProbeIDHeader, id)
	conn, err := h.Upgrader.Upgrade(w, r, headers)
	if err != nil {
		// Upgrade has already replied to the client.
		logger.WithError(err).Warn("session: cannot upgrade")
		metrics.ProbeCount.WithLabelValues("session", "upgrade-failed").Inc()
		return
	}
	metrics.ActiveProbes.WithLabelValues("session").Inc()
	defer metrics.ActiveProbes.WithLabelValues("session").Dec()
	s := session.New(conn, id, h.SessionConfig)
	result := "ok"
	if err := s.Run(r.Context()); err != nil {
		result = "error"
		logger.WithError(err).Debug("session ended with error")
	}
	metrics.ProbeCount.WithLabelValues("session", result).Inc()
}
