package uds

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drillops/cerberus/internal/model"
)

// sockPath returns a socket path under /tmp, short enough for sun_path.
func sockPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "cerberus-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "cerberus.sock")
}

// scanFixture is a server carrying the daemon's scan command surface,
// reduced to an in-memory single-scan slot, plus a client talking to it.
type scanFixture struct {
	path   string
	server *Server
	client *Client

	mu     sync.Mutex
	active string
}

func newScanFixture(t *testing.T) *scanFixture {
	t.Helper()
	path := sockPath(t)
	f := &scanFixture{
		path:   path,
		server: NewServer(path, nil),
		client: NewClient(path),
	}

	f.server.Handle("ping", func(req *Request) *Response {
		return SuccessResponse(map[string]string{"status": "ok"})
	})
	f.server.Handle("scan.start", func(req *Request) *Response {
		var params struct {
			Rows []model.InputRow `json:"rows"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil || len(params.Rows) == 0 {
			return ErrorResponse(ErrCodeValidation, "at least one input row is required")
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.active != "" {
			return ErrorResponse(ErrCodeScanActive, "a scan is already running")
		}
		f.active = "run-1"
		return SuccessResponse(map[string]string{"run_id": f.active})
	})
	f.server.Handle("scan.status", func(req *Request) *Response {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.active == "" {
			return ErrorResponse(ErrCodeNoScan, "no scan in flight")
		}
		return SuccessResponse(map[string]string{"run_id": f.active, "state": "collecting"})
	})
	f.server.Handle("scan.cancel", func(req *Request) *Response {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.active == "" {
			return ErrorResponse(ErrCodeNoScan, "no scan in flight")
		}
		f.active = ""
		return SuccessResponse(nil)
	})

	require.NoError(t, f.server.Start())
	t.Cleanup(func() { _ = f.server.Stop() })
	return f
}

func TestFraming_ScanStartRoundTrip(t *testing.T) {
	rows := []model.InputRow{
		{Density: "9.5", Depth: "1000", ForceRIH: "0", ForcePOOH: "2500"},
		{Depth: "2000"},
	}
	req, err := NewRequest("scan.start", map[string]any{"rows": rows, "resume_offset": 6})
	require.NoError(t, err)

	clientEnd, serverEnd := net.Pipe()
	defer clientEnd.Close()
	defer serverEnd.Close()

	sent := make(chan error, 1)
	go func() { sent <- WriteFrame(clientEnd, req) }()

	var got Request
	require.NoError(t, ReadFrame(serverEnd, &got))
	require.NoError(t, <-sent)

	assert.Equal(t, ProtocolVersion, got.ProtocolVersion)
	assert.Equal(t, "scan.start", got.Command)

	var params struct {
		Rows         []model.InputRow `json:"rows"`
		ResumeOffset int              `json:"resume_offset"`
	}
	require.NoError(t, json.Unmarshal(got.Params, &params))
	assert.Equal(t, rows, params.Rows)
	assert.Equal(t, 6, params.ResumeOffset)
}

func TestFraming_LargeResultsPayload(t *testing.T) {
	// A results frame for a big grid carries thousands of rows.
	rows := make([]model.ResultRow, 5000)
	for i := range rows {
		rows[i] = model.ResultRow{
			GlobalIndex: i,
			Mode:        model.ModeRIH,
			BatchIndex:  i/200 + 1,
			Values:      map[string]string{"Depth": "1000", "Min Surface Weight": "12.4"},
		}
	}
	resp := SuccessResponse(map[string]any{"rows": rows})

	clientEnd, serverEnd := net.Pipe()
	defer clientEnd.Close()
	defer serverEnd.Close()

	sent := make(chan error, 1)
	go func() { sent <- WriteFrame(serverEnd, resp) }()

	var got Response
	require.NoError(t, ReadFrame(clientEnd, &got))
	require.NoError(t, <-sent)
	require.True(t, got.Success)

	var payload struct {
		Rows []model.ResultRow `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(got.Data, &payload))
	require.Len(t, payload.Rows, 5000)
	assert.Equal(t, 4999, payload.Rows[4999].GlobalIndex)
	assert.Equal(t, 25, payload.Rows[4999].BatchIndex)
}

func TestServer_ScanCommandLifecycle(t *testing.T) {
	f := newScanFixture(t)

	resp, err := f.client.SendCommand("scan.cancel", nil)
	require.NoError(t, err)
	require.False(t, resp.Success)
	assert.Equal(t, ErrCodeNoScan, resp.Error.Code)

	resp, err = f.client.SendCommand("scan.start", map[string]any{
		"rows": []model.InputRow{{Density: "10", Depth: "1000", ForceRIH: "0"}},
	})
	require.NoError(t, err)
	require.True(t, resp.Success, "first start claims the scan slot")
	var started struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &started))
	assert.NotEmpty(t, started.RunID)

	resp, err = f.client.SendCommand("scan.start", map[string]any{
		"rows": []model.InputRow{{Depth: "2000"}},
	})
	require.NoError(t, err)
	require.False(t, resp.Success)
	assert.Equal(t, ErrCodeScanActive, resp.Error.Code)

	resp, err = f.client.SendCommand("scan.status", nil)
	require.NoError(t, err)
	require.True(t, resp.Success)

	resp, err = f.client.SendCommand("scan.cancel", nil)
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestServer_StartRejectsEmptyRows(t *testing.T) {
	f := newScanFixture(t)

	resp, err := f.client.SendCommand("scan.start", map[string]any{"rows": []model.InputRow{}})
	require.NoError(t, err)
	require.False(t, resp.Success)
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)
}

func TestServer_RejectsStaleProtocol(t *testing.T) {
	f := newScanFixture(t)

	resp, err := f.client.Send(&Request{ProtocolVersion: ProtocolVersion + 1, Command: "ping"})
	require.NoError(t, err)
	require.False(t, resp.Success)
	assert.Equal(t, ErrCodeProtocolMismatch, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, fmt.Sprintf("expected %d", ProtocolVersion))
}

func TestServer_UnknownCommand(t *testing.T) {
	f := newScanFixture(t)

	resp, err := f.client.SendCommand("scan.pause", nil)
	require.NoError(t, err)
	require.False(t, resp.Success)
	assert.Equal(t, ErrCodeUnknownCommand, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "scan.pause")
}

func TestServer_PipelinedRequests(t *testing.T) {
	f := newScanFixture(t)

	conn, err := net.Dial("unix", f.path)
	require.NoError(t, err)
	defer conn.Close()

	ping, err := NewRequest("ping", nil)
	require.NoError(t, err)
	status, err := NewRequest("scan.status", nil)
	require.NoError(t, err)

	// Both frames go out before the first response is read.
	require.NoError(t, WriteFrame(conn, ping))
	require.NoError(t, WriteFrame(conn, status))

	var first, second Response
	require.NoError(t, ReadFrame(conn, &first))
	require.NoError(t, ReadFrame(conn, &second))

	assert.True(t, first.Success)
	require.False(t, second.Success)
	assert.Equal(t, ErrCodeNoScan, second.Error.Code)
}

func TestServer_ConcurrentClients(t *testing.T) {
	f := newScanFixture(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.client.SendCommand("ping", nil)
			if err != nil {
				errs <- err
				return
			}
			if !resp.Success {
				errs <- fmt.Errorf("ping failed: %+v", resp.Error)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestServer_IdleConnectionTimeout(t *testing.T) {
	path := sockPath(t)
	server := NewServer(path, nil)
	server.SetConnTimeout(100 * time.Millisecond)
	require.NoError(t, server.Start())
	defer server.Stop()

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	// A client that never sends a frame gets hung up on.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	require.Error(t, err)
}

func TestServer_ReclaimsStaleSocket(t *testing.T) {
	path := sockPath(t)
	// Leftover from a crashed daemon; the file lock guarantees it is dead.
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0644))

	server := NewServer(path, nil)
	require.NoError(t, server.Start())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	require.NoError(t, server.Stop())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "socket file removed on shutdown")
}

func TestClient_DaemonNotRunningHint(t *testing.T) {
	client := NewClient(sockPath(t))
	client.SetTimeout(time.Second)

	_, err := client.SendCommand("ping", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cerberus daemon")
}
