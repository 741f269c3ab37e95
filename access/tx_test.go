package access

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-lab/go/testingx"
)

const netDevHeader = `Inter-|   Receive                                                |  Transmit
 face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed
`

// fakeProc creates a proc directory whose net/dev lists the given lines.
// An empty lines value leaves net/dev missing.
func fakeProc(t *testing.T, lines string) string {
	dir := t.TempDir()
	testingx.Must(t, os.MkdirAll(filepath.Join(dir, "net"), 0o755), "cannot create net dir")
	if lines != "" {
		err := os.WriteFile(filepath.Join(dir, "net", "dev"), []byte(netDevHeader+lines), 0o644)
		testingx.Must(t, err, "cannot write net/dev")
	}
	return dir
}

const eth0 = "  eth0: 1000 10 0 0 0 0 0 0 2000 20 0 0 0 0 0 0\n"

func TestNewTxController(t *testing.T) {
	tests := []struct {
		name    string
		lines   string
		device  string
		wantErr bool
	}{
		{
			name:   "success",
			lines:  eth0,
			device: "eth0",
		},
		{
			name:    "failure-nodevfile",
			device:  "eth0",
			wantErr: true,
		},
		{
			name:    "failure-nodevice",
			lines:   "  lo: 1 1 0 0 0 0 0 0 1 1 0 0 0 0 0 0\n",
			device:  "eth0",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			procPath = fakeProc(t, tt.lines)
			defer func() { procPath = "/proc" }()
			got, err := NewTxController(tt.device, 10)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewTxController() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (got.device != tt.device || got.limit != 10) {
				t.Errorf("NewTxController() = %+v", got)
			}
		})
	}
}

func TestTxController_Limit(t *testing.T) {
	tests := []struct {
		name    string
		limit   uint64
		current uint64
		visited bool
		status  int
	}{
		{
			name:    "unlimited",
			current: 100,
			visited: true,
			status:  http.StatusOK,
		},
		{
			name:    "under",
			limit:   10,
			current: 5,
			visited: true,
			status:  http.StatusOK,
		},
		{
			name:    "reject",
			limit:   1,
			current: 2,
			status:  http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := &TxController{limit: tt.limit, current: tt.current}
			visited := false
			next := http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
				visited = true
			})
			rw := httptest.NewRecorder()
			tx.Limit(next).ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/download", nil))
			if visited != tt.visited {
				t.Errorf("TxController.Limit() got %t, want %t", visited, tt.visited)
			}
			if rw.Code != tt.status {
				t.Errorf("TxController.Limit() status %d, want %d", rw.Code, tt.status)
			}
		})
	}
}

func TestTxController_Watch(t *testing.T) {
	tests := []struct {
		name    string
		limit   uint64
		wantErr bool
	}{
		{
			name: "zero-limit-returns-immediately",
		},
		{
			name:    "runs-until-canceled",
			limit:   1,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			procPath = fakeProc(t, eth0)
			defer func() { procPath = "/proc" }()
			tx, err := NewTxController("eth0", tt.limit)
			testingx.Must(t, err, "cannot create controller")
			tx.period = time.Millisecond
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			err = tx.Watch(ctx)
			if (err != nil) != tt.wantErr {
				t.Errorf("Watch() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
