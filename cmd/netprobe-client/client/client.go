// Package client implements a simple netprobe client: it runs a download,
// an upload and a latency session, and submits the measured latency.
package client

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/m-lab/netprobe-server/samples"
	"github.com/m-lab/netprobe-server/session/message"
	"github.com/m-lab/netprobe-server/spec"
	"github.com/pkg/errors"
)

var json = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	CaseSensitive:          true,
}.Froze()

// defaultTimeout is the default I/O timeout.
const defaultTimeout = 7 * time.Second

// ErrBadReply is returned when the server answers with something unexpected.
var ErrBadReply = errors.New("unexpected reply")

// Client is a simplified netprobe client.
type Client struct {
	// URL is the base URL of the server, e.g. http://localhost:3000.
	URL url.URL

	// HTTP is the client used for plain requests.
	HTTP *http.Client

	// Dialer is the WebSocket dialer.
	Dialer websocket.Dialer
}

// New returns a client for the server at base.
func New(base url.URL) *Client {
	return &Client{
		URL:  base,
		HTTP: &http.Client{},
		Dialer: websocket.Dialer{
			HandshakeTimeout: defaultTimeout,
		},
	}
}

// Result summarizes a download or upload.
type Result struct {
	Bytes   int64
	Elapsed time.Duration
}

// Mbps returns the average rate in megabits per second.
func (r Result) Mbps() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Bytes) * 8 / r.Elapsed.Seconds() / 1e6
}

func (cl *Client) endpoint(path string) string {
	u := cl.URL
	u.Path = path
	return u.String()
}

func (cl *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, cl.endpoint(path), body)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot create %s request", path)
	}
	resp, err := cl.HTTP.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s failed", method, path)
	}
	return resp, nil
}

// Download fetches the download stream and measures it.
func (cl *Client) Download(ctx context.Context) (Result, error) {
	log.Infof("Starting download from: %s", cl.endpoint(spec.DownloadURLPath))
	t0 := time.Now()
	resp, err := cl.do(ctx, http.MethodGet, spec.DownloadURLPath, nil)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{}, errors.Wrapf(ErrBadReply, "download status %d", resp.StatusCode)
	}
	n, err := io.Copy(io.Discard, resp.Body)
	res := Result{Bytes: n, Elapsed: time.Since(t0)}
	if err != nil {
		return res, errors.Wrap(err, "download interrupted")
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return res, errors.Wrapf(ErrBadReply, "download got %d of %d bytes", n, resp.ContentLength)
	}
	log.Infof("Download complete: %d bytes, %.2f Mbit/s", res.Bytes, res.Mbps())
	return res, nil
}

// letters is an endless reader of random letters.
type letters struct{}

func (letters) Read(p []byte) (int, error) {
	const letterBytes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	for i := range p {
		p[i] = letterBytes[rand.Intn(len(letterBytes))]
	}
	return len(p), nil
}

// Upload sends size bytes to the upload sink.
func (cl *Client) Upload(ctx context.Context, size int64) (Result, error) {
	log.Infof("Starting upload to: %s", cl.endpoint(spec.UploadURLPath))
	t0 := time.Now()
	resp, err := cl.do(ctx, http.MethodPost, spec.UploadURLPath, io.LimitReader(letters{}, size))
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, errors.Wrap(err, "cannot read upload reply")
	}
	res := Result{Bytes: size, Elapsed: time.Since(t0)}
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		return res, errors.Wrapf(ErrBadReply, "upload status %d: %q", resp.StatusCode, body)
	}
	log.Infof("Upload complete: %d bytes, %.2f Mbit/s", res.Bytes, res.Mbps())
	return res, nil
}

// PingResult holds the round-trip times measured on a session.
type PingResult struct {
	RTTs []time.Duration
}

// Min returns the smallest round-trip time.
func (p PingResult) Min() time.Duration {
	var min time.Duration
	for i, rtt := range p.RTTs {
		if i == 0 || rtt < min {
			min = rtt
		}
	}
	return min
}

// Avg returns the mean round-trip time.
func (p PingResult) Avg() time.Duration {
	if len(p.RTTs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, rtt := range p.RTTs {
		sum += rtt
	}
	return sum / time.Duration(len(p.RTTs))
}

func (cl *Client) sessionURL() string {
	u := cl.URL
	u.Path = spec.SessionURLPath
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	return u.String()
}

// Ping opens a latency session and measures count round trips.
func (cl *Client) Ping(ctx context.Context, count int) (PingResult, error) {
	URL := cl.sessionURL()
	log.Infof("Creating a WebSocket connection to: %s", URL)
	conn, _, err := cl.Dialer.DialContext(ctx, URL, nil)
	if err != nil {
		return PingResult{}, errors.Wrap(err, "cannot open session")
	}
	defer conn.Close()
	var res PingResult
	for seq := 0; seq < count; seq++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ping, err := json.Marshal(message.Message{
			Type: message.TypePing,
			Seq:  jsoniter.RawMessage(strconv.Itoa(seq)),
		})
		if err != nil {
			return res, err
		}
		conn.SetWriteDeadline(time.Now().Add(defaultTimeout))
		conn.SetReadDeadline(time.Now().Add(defaultTimeout))
		t0 := time.Now()
		if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
			return res, errors.Wrap(err, "cannot send ping")
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return res, errors.Wrap(err, "cannot read pong")
		}
		rtt := time.Since(t0)
		pong, err := message.Parse(data)
		if err != nil || pong.Type != message.TypePong || string(pong.Seq) != strconv.Itoa(seq) {
			return res, errors.Wrapf(ErrBadReply, "ping %d answered with %s", seq, data)
		}
		res.RTTs = append(res.RTTs, rtt)
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	log.Infof("Ping complete: min %s avg %s", res.Min(), res.Avg())
	return res, nil
}

// Submit stores a latency sample on the server.
func (cl *Client) Submit(ctx context.Context, s samples.Sample) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	resp, err := cl.do(ctx, http.MethodPost, spec.MeasureURLPath, bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "cannot read measure reply")
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(ErrBadReply, "measure status %d: %q", resp.StatusCode, body)
	}
	return nil
}

// Measures returns every sample stored on the server.
func (cl *Client) Measures(ctx context.Context) ([]samples.Sample, error) {
	resp, err := cl.do(ctx, http.MethodGet, spec.MeasuresURLPath, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrBadReply, "measures status %d", resp.StatusCode)
	}
	var out []samples.Sample
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "cannot decode samples")
	}
	return out, nil
}
