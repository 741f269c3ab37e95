package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/go/warnonerror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/m-lab/netprobe-server/access"
	"github.com/m-lab/netprobe-server/download"
	"github.com/m-lab/netprobe-server/handler"
	"github.com/m-lab/netprobe-server/listener"
	"github.com/m-lab/netprobe-server/logging"
	"github.com/m-lab/netprobe-server/platformx"
	"github.com/m-lab/netprobe-server/redis"
	"github.com/m-lab/netprobe-server/samples"
	"github.com/m-lab/netprobe-server/spec"
)

var (
	// Flags that can be passed in on the command line or through the
	// environment (e.g. PORT, REDIS_ADDR).
	port               = flag.String("port", strconv.Itoa(spec.DefaultPort), "The port to listen on; invalid values fall back to the default")
	profile            = flag.String("profile", spec.ProfilePaced, "Download profile: paced or unpaced")
	chunkSize          = flag.Int("chunk_size", spec.DefaultChunkSize, "Size in bytes of every download chunk")
	chunkCount         = flag.Int("chunk_count", spec.DefaultChunkCount, "Number of chunks in a download")
	maxUploadBytes     = flag.Int64("max_upload_bytes", 0, "Largest accepted upload body; 0 means unlimited")
	maxConcurrent      = flag.Int64("max_concurrent", 0, "Largest number of concurrent probes; 0 means unlimited")
	txMaxRate          = flag.Uint64("tx_max_rate", 0, "Reject probes while the device transmits more bits/s than this; 0 disables the check")
	txDevice           = flag.String("txcontroller.device", "eth0", "Calculate bytes transmitted from this device")
	redisAddr          = flag.String("redis_addr", "", "Address of the Redis server used for remote abort and summaries; empty disables them")
	certFile           = flag.String("cert", "", "The file with server certificates in PEM format")
	keyFile            = flag.String("key", "", "The file with server key in PEM format")
	sessionIdleTimeout = flag.Duration("session_idle_timeout", spec.DefaultSessionIdleTimeout, "Close latency sessions that stay silent this long")

	// A metric to use to signal that the server is in lame duck mode.
	lameDuck = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netprobe_lame_duck",
		Help: "Indicates when the server is in lame duck",
	})

	// Context for the whole program.
	ctx, cancel = context.WithCancel(context.Background())
)

func catchSigterm() {
	lameDuck.Set(0)

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case <-c:
		logging.Logger.Info("Received SIGTERM")
		lameDuck.Set(1)
		cancel()
	case <-ctx.Done():
		logging.Logger.Info("Canceled")
	}
}

// listenAddr returns the address for the given port. Anything but an
// integer in 1..65535 selects spec.DefaultPort.
func listenAddr(port string) string {
	p, err := strconv.Atoi(strings.TrimSpace(port))
	if err != nil || p < 1 || p > 65535 {
		logging.Logger.WithField("port", port).Warnf("invalid port, using %d", spec.DefaultPort)
		p = spec.DefaultPort
	}
	return ":" + strconv.Itoa(p)
}

// httpServer creates a new *http.Server whose request contexts derive from
// the program context, so hijacked connections also see the shutdown.
//
// There is no WriteTimeout: a paced download lasts longer than any sensible
// absolute limit. Chunk writes carry their own deadline instead.
func httpServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from env")
	defer cancel()

	delay, ok := spec.Profiles[*profile]
	if !ok {
		logging.Logger.Fatalf("unknown profile %q", *profile)
	}

	go catchSigterm()

	promServer := prometheusx.MustServeMetrics()
	defer warnonerror.Close(promServer, "Could not close the metrics server")

	var limits access.Chain
	if *maxConcurrent > 0 {
		limits = append(limits, &access.MaxController{Max: *maxConcurrent})
	}
	if *txMaxRate > 0 && platformx.WarnIfNotFullySupported() {
		tx, err := access.NewTxController(*txDevice, *txMaxRate)
		rtx.Must(err, "Failed to create the tx controller")
		go func() {
			if err := tx.Watch(ctx); err != nil && ctx.Err() == nil {
				logging.Logger.WithError(err).Error("tx controller stopped")
			}
		}()
		limits = append(limits, tx)
	}

	h := handler.New(samples.NewStore())
	h.DownloadParams = download.Params{
		ChunkSize:  *chunkSize,
		ChunkCount: *chunkCount,
		Delay:      delay,
	}
	rtx.Must(h.DownloadParams.Validate(), "Invalid download parameters")
	h.MaxUploadBytes = *maxUploadBytes
	h.SessionConfig.IdleTimeout = *sessionIdleTimeout
	if *redisAddr != "" {
		rc := redis.NewClient(*redisAddr)
		defer warnonerror.Close(rc, "Could not close the redis client")
		h.Coordinator = rc
	}

	srv := httpServer(listenAddr(*port), logging.MakeAccessLogHandler(h.Routes(limits)))
	logging.Logger.WithFields(log.Fields{
		"addr":    srv.Addr,
		"profile": *profile,
	}).Info("About to listen for netprobe requests")
	if *certFile != "" && *keyFile != "" {
		rtx.Must(listener.ListenAndServeTLSAsync(srv, *certFile, *keyFile), "Could not start the TLS server")
	} else {
		rtx.Must(listener.ListenAndServeAsync(srv), "Could not start the server")
	}
	defer srv.Close()

	<-ctx.Done()
}
