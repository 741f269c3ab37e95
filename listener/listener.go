// Package listener starts HTTP servers whose listening socket is ready when
// the start function returns, so clients may connect right away. Accepted
// connections use TCP keep-alive, which lets dead peers (e.g. a laptop
// closed mid-download) eventually go away.
package listener

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/apex/log"
)

var logFatalf = log.Fatalf

// KeepAlivePeriod is the TCP keep-alive period of accepted connections.
const KeepAlivePeriod = 3 * time.Minute

// TCPKeepAliveListener enables TCP keep-alive on accepted connections.
type TCPKeepAliveListener struct {
	*net.TCPListener
}

// Accept implements net.Listener.
func (ln TCPKeepAliveListener) Accept() (net.Conn, error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		return nil, err
	}
	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(KeepAlivePeriod)
	return tc, nil
}

func listen(server *http.Server) (TCPKeepAliveListener, error) {
	l, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return TCPKeepAliveListener{}, err
	}
	return TCPKeepAliveListener{l.(*net.TCPListener)}, nil
}

func serve(server *http.Server, l net.Listener) {
	err := server.Serve(l)
	if err != http.ErrServerClosed {
		logFatalf("Error, server %v closed with unexpected error %v", server.Addr, err)
	}
}

// ListenAndServeAsync starts server and returns once the listening socket is
// established. The server runs until Shutdown or Close is called. If the
// server dies for any other reason the process exits.
//
// When server.Addr ends with ":0" a random port is selected and server.Addr
// is updated with the actual address.
func ListenAndServeAsync(server *http.Server) error {
	l, err := listen(server)
	if err != nil {
		return err
	}
	if strings.HasSuffix(server.Addr, ":0") {
		server.Addr = l.Addr().String()
	}
	go serve(server, l)
	return nil
}

func serveTLS(server *http.Server, l net.Listener, certFile, keyFile string) {
	err := server.ServeTLS(l, certFile, keyFile)
	if err != http.ErrServerClosed {
		logFatalf("Error, server %v closed with unexpected error %v", server.Addr, err)
	}
}

// ListenAndServeTLSAsync is like ListenAndServeAsync for TLS servers. The
// address of a ":0" server is not rewritten because the listening address
// may not be usable as a TLS server name.
func ListenAndServeTLSAsync(server *http.Server, certFile, keyFile string) error {
	l, err := listen(server)
	if err != nil {
		return err
	}
	go serveTLS(server, l, certFile, keyFile)
	return nil
}
