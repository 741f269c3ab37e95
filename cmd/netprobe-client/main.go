// netprobe-client runs every netprobe against a server and submits the
// measured latency.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/netprobe-server/cmd/netprobe-client/client"
	"github.com/m-lab/netprobe-server/samples"
)

var (
	server        = flag.String("server", "http://localhost:3000", "Base URL of the netprobe server")
	uploadBytes   = flag.Int64("upload-bytes", 10<<20, "Number of bytes to upload")
	pings         = flag.Int("pings", 10, "Number of round trips to measure on the latency session")
	timeout       = flag.Duration("timeout", time.Minute, "Overall time limit")
	skipTLSVerify = flag.Bool("skip-tls-verify", false, "Skip TLS verify")
)

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from env")
	base, err := url.Parse(*server)
	rtx.Must(err, "Could not parse server URL %q", *server)

	clnt := client.New(*base)
	if *skipTLSVerify {
		config := &tls.Config{InsecureSkipVerify: true}
		clnt.HTTP.Transport = &http.Transport{TLSClientConfig: config}
		clnt.Dialer.TLSClientConfig = config
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if _, err := clnt.Download(ctx); err != nil {
		log.WithError(err).Warn("clnt.Download() failed")
		os.Exit(1)
	}
	if _, err := clnt.Upload(ctx, *uploadBytes); err != nil {
		log.WithError(err).Warn("clnt.Upload() failed")
		os.Exit(1)
	}
	res, err := clnt.Ping(ctx, *pings)
	if err != nil {
		log.WithError(err).Warn("clnt.Ping() failed")
		os.Exit(1)
	}
	s := samples.Sample{
		Timestamp: time.Now().UnixMilli(),
		PingMs:    float64(res.Min()) / float64(time.Millisecond),
	}
	if err := clnt.Submit(ctx, s); err != nil {
		log.WithError(err).Warn("clnt.Submit() failed")
		os.Exit(1)
	}
}
