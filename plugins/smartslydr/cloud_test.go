package smartslydr

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

const twoRoomsJSON = `{"room_lists":[
 {"room_name":"Living","device_list":[{"device_id":"dev-1","devicename":"Patio","petpass":"off","room_name":"Living","room_id":"r1","wlansignal":-61,"temperature":21,"humidity":40,"position":0,"error":"","status":"device is online"}]},
 {"room_name":"Kitchen","device_list":[{"device_id":"dev-2","devicename":"Garden","room_name":"Kitchen","room_id":"r2","wlansignal":"-70","temperature":19.6,"humidity":"55","position":100,"status":"device is offline"}]}
]}`

type recordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// fakeCloud is an httptest stand-in for the SmartSlydr API.
type fakeCloud struct {
	t      *testing.T
	server *httptest.Server

	mu              sync.Mutex
	requests        []recordedRequest
	authStatus      int
	authBody        string
	tokenStatus     int
	tokenBody       string
	devicesStatus   int
	devicesBody     string
	gzipDevices     bool
	operationStatus int
	positionStatus  int
	positionBody    string
}

func newFakeCloud(t *testing.T) *fakeCloud {
	t.Helper()
	f := &fakeCloud{
		t:               t,
		authStatus:      http.StatusOK,
		authBody:        `{"access_token":"A","refresh_token":"R"}`,
		tokenStatus:     http.StatusOK,
		tokenBody:       `{"access_token":"A2"}`,
		devicesStatus:   http.StatusOK,
		devicesBody:     twoRoomsJSON,
		operationStatus: http.StatusOK,
		positionStatus:  http.StatusOK,
		positionBody:    `{"response":[{"position":42}]}`,
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeCloud) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone(), Body: body})
	var status int
	var payload string
	gz := false
	switch r.URL.Path {
	case "/auth":
		status, payload = f.authStatus, f.authBody
	case "/token":
		status, payload = f.tokenStatus, f.tokenBody
	case "/devices":
		status, payload, gz = f.devicesStatus, f.devicesBody, f.gzipDevices
	case "/operation":
		status, payload = f.operationStatus, `{}`
	case "/operation/get":
		status, payload = f.positionStatus, f.positionBody
	default:
		f.mu.Unlock()
		f.t.Errorf("unexpected path: %s", r.URL.Path)
		http.NotFound(w, r)
		return
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if gz {
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(status)
		zw := gzip.NewWriter(w)
		_, _ = io.WriteString(zw, payload)
		_ = zw.Close()
		return
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, payload)
}

func (f *fakeCloud) set(fn func(f *fakeCloud)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeCloud) config() Config {
	return Config{Username: "user", Password: "pass", BaseURL: f.server.URL}
}

func (f *fakeCloud) client(t *testing.T, tokens *TokenStore) *Client {
	t.Helper()
	if tokens == nil {
		tokens = NewTokenStore("user", "pass")
	}
	client, err := NewClient(f.config(), tokens)
	require.NoError(t, err)
	return client
}

func (f *fakeCloud) all() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func (f *fakeCloud) to(path string) []recordedRequest {
	var out []recordedRequest
	for _, req := range f.all() {
		if req.Path == path {
			out = append(out, req)
		}
	}
	return out
}

func (f *fakeCloud) paths() []string {
	var out []string
	for _, req := range f.all() {
		out = append(out, req.Path)
	}
	return out
}

func decodeBody(t *testing.T, req recordedRequest) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(req.Body, &out), "body: %s", strings.TrimSpace(string(req.Body)))
	return out
}
