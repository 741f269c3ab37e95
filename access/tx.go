package access

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/procfs"
)

var (
	procPath   = "/proc"
	txRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netprobe_access_txcontroller_requests_total",
			Help: "Total number of requests handled by the access txcontroller.",
		},
		[]string{"request"},
	)
	txRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netprobe_access_txcontroller_current_bits_per_second",
			Help: "Most recent transmit rate observed by the access txcontroller.",
		},
	)
)

// TxController rejects new probes while the bits transmitted by a network
// device over the last period exceed a limit.
type TxController struct {
	period  time.Duration
	device  string
	current uint64
	limit   uint64
	pfs     procfs.FS
}

// NewTxController creates a controller for device that samples once per
// second. The caller should run Watch in a goroutine to keep the current rate
// up to date.
func NewTxController(device string, limit uint64) (*TxController, error) {
	pfs, err := procfs.NewFS(procPath)
	if err != nil {
		return nil, err
	}
	// Fail early if the device is unknown.
	if _, err = readNetDevLine(pfs, device); err != nil {
		return nil, err
	}
	return &TxController{
		device: device,
		limit:  limit,
		pfs:    pfs,
		period: time.Second,
	}, nil
}

// Limit runs next unless the current rate exceeds the limit. A zero limit
// admits every request.
func (tx *TxController) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := atomic.LoadUint64(&tx.current)
		if tx.limit > 0 && cur > tx.limit {
			txRequests.WithLabelValues("rejected").Inc()
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		txRequests.WithLabelValues("accepted").Inc()
		next.ServeHTTP(w, r)
	})
}

// Watch updates the current rate every period until ctx is canceled, and
// then returns the context error. With a zero limit Watch returns nil
// immediately.
func (tx *TxController) Watch(ctx context.Context) error {
	if tx.limit == 0 {
		return nil
	}
	t := time.NewTicker(tx.period)
	defer t.Stop()

	v, err := readNetDevLine(tx.pfs, tx.device)
	if err != nil {
		return err
	}
	prev := v.TxBytes
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		v, err := readNetDevLine(tx.pfs, tx.device)
		if err != nil {
			log.WithError(err).WithField("device", tx.device).Warn("cannot read net/dev")
			continue
		}
		bits := (v.TxBytes - prev) * 8
		bps := float64(bits) / tx.period.Seconds()
		atomic.StoreUint64(&tx.current, uint64(bps))
		txRate.Set(bps)
		prev = v.TxBytes
	}
}

func readNetDevLine(pfs procfs.FS, device string) (procfs.NetDevLine, error) {
	nd, err := pfs.NetDev()
	if err != nil {
		return procfs.NetDevLine{}, err
	}
	v, ok := nd[device]
	if !ok {
		return procfs.NetDevLine{}, fmt.Errorf("device not found: %q", device)
	}
	return v, nil
}
