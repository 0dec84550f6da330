package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"dm-go/internal/dm"
	"dm-go/internal/metrics"
	"dm-go/internal/testutil"
	"dm-go/internal/vault"
)

type testServer struct {
	*httptest.Server
	store *vault.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := testutil.NewTestStore()
	collector := metrics.NewCollector()
	svc := dm.NewDMService(
		testutil.NewTestDatabase(t),
		testutil.NewTestStagingArea(),
		store,
		testutil.NewTestDirectoryManager(t),
		dm.NewNopLogger(),
		collector,
		testutil.FixedClock(),
		testutil.NewStubIDGenerator(),
	)
	s, err := New(svc, dm.NewNopLogger(), collector)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: store}
}

func (ts *testServer) do(t *testing.T, user, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) upload(t *testing.T, user string, fields map[string]string, filename, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(fw, content)
	mw.Close()
	return ts.do(t, user, http.MethodPost, "/api/file-uploads/", &buf, mw.FormDataContentType())
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "", http.MethodGet, "/health", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := readBody(t, resp); got != "OK" {
		t.Errorf("body = %q, want OK", got)
	}
}

func TestServer_RequiresUser(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "", http.MethodGet, "/api/files/", nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestServer_UploadAndDownload(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.upload(t, "alice", map[string]string{"path": "a.txt"}, "local.txt", "hello")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d, want 201: %s", resp.StatusCode, readBody(t, resp))
	}
	first := decode[fileVersionResponse](t, resp)
	if first.Path != "a.txt" || first.Version != 0 || first.Digest != testutil.SHA256Hex([]byte("hello")) {
		t.Errorf("upload response = %+v", first)
	}

	resp = ts.upload(t, "alice", map[string]string{"path": "b.txt"}, "local.txt", "hello")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate upload status = %d, want 409", resp.StatusCode)
	}

	resp = ts.upload(t, "alice", map[string]string{"path": "a.txt"}, "local.txt", "world")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("second upload status = %d, want 201", resp.StatusCode)
	}

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{name: "latest", path: "/api/documents/a.txt", wantStatus: http.StatusOK, wantBody: "world"},
		{name: "version 0", path: "/api/documents/a.txt?version=0", wantStatus: http.StatusOK, wantBody: "hello"},
		{name: "missing version", path: "/api/documents/a.txt?version=9", wantStatus: http.StatusNotFound},
		{name: "negative version", path: "/api/documents/a.txt?version=-1", wantStatus: http.StatusBadRequest},
		{name: "malformed version", path: "/api/documents/a.txt?version=latest", wantStatus: http.StatusBadRequest},
		{name: "duplicate not recorded", path: "/api/documents/b.txt", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, "bob", http.MethodGet, tt.path, nil, "")
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantBody == "" {
				return
			}
			if got := readBody(t, resp); got != tt.wantBody {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
			if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename=local.txt` {
				t.Errorf("Content-Disposition = %q", cd)
			}
		})
	}
}

func TestServer_UploadErrors(t *testing.T) {
	ts := newTestServer(t)

	t.Run("escaping directory", func(t *testing.T) {
		resp := ts.upload(t, "alice", map[string]string{"directory": "../../etc"}, "x.txt", "x")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
		body := decode[errorResponse](t, resp)
		if strings.Contains(body.Error, "/") {
			t.Errorf("error message leaks a path: %q", body.Error)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		mw.WriteField("path", "a.txt")
		mw.Close()
		resp := ts.do(t, "alice", http.MethodPost, "/api/file-uploads/", &buf, mw.FormDataContentType())
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("not multipart", func(t *testing.T) {
		resp := ts.do(t, "alice", http.MethodPost, "/api/file-uploads/", strings.NewReader("raw"), "text/plain")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("storage write failure", func(t *testing.T) {
		ts.store.FailPuts = true
		defer func() { ts.store.FailPuts = false }()

		resp := ts.upload(t, "alice", nil, "fail.txt", "cannot store")
		if resp.StatusCode != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", resp.StatusCode)
		}
	})
}

func TestServer_ListingAndGrants(t *testing.T) {
	ts := newTestServer(t)

	rec := decode[fileVersionResponse](t, ts.upload(t, "alice", nil, "a.txt", "alice's file"))
	ts.upload(t, "carol", nil, "c.txt", "carol's file")

	all := decode[[]fileVersionResponse](t, ts.do(t, "bob", http.MethodGet, "/api/files/", nil, ""))
	if len(all) != 2 {
		t.Errorf("all files = %d, want 2", len(all))
	}

	owned := decode[[]visibleFileResponse](t, ts.do(t, "bob", http.MethodGet, "/api/files/user/", nil, ""))
	if len(owned) != 0 {
		t.Errorf("bob owns %d files before grant, want 0", len(owned))
	}

	resp := ts.do(t, "bob", http.MethodPost, "/api/file_versions/"+rec.ID+"/grants", strings.NewReader(`{"user_id":"bob"}`), "application/json")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("grant by non-owner status = %d, want 404", resp.StatusCode)
	}

	resp = ts.do(t, "alice", http.MethodPost, "/api/file_versions/"+rec.ID+"/grants", strings.NewReader(`{"user_id":"bob"}`), "application/json")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("grant status = %d, want 204", resp.StatusCode)
	}

	resp = ts.do(t, "alice", http.MethodPost, "/api/file_versions/"+rec.ID+"/grants", strings.NewReader(`{}`), "application/json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("grant without user status = %d, want 400", resp.StatusCode)
	}

	owned = decode[[]visibleFileResponse](t, ts.do(t, "bob", http.MethodGet, "/api/files/user/", nil, ""))
	if len(owned) != 1 || owned[0].ID != rec.ID {
		t.Errorf("bob owns %+v after grant, want %s", owned, rec.ID)
	}
}

func TestServer_FileVersions(t *testing.T) {
	ts := newTestServer(t)
	rec := decode[fileVersionResponse](t, ts.upload(t, "alice", map[string]string{"path": "notes.txt"}, "notes.txt", "content"))

	resp := ts.do(t, "alice", http.MethodGet, "/api/file_versions/"+rec.ID, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := decode[fileVersionResponse](t, resp); got.Path != "notes.txt" {
		t.Errorf("Path = %q, want notes.txt", got.Path)
	}

	resp = ts.do(t, "alice", http.MethodGet, "/api/file_versions/"+rec.ID+"/download", nil, "")
	if got := readBody(t, resp); got != "content" {
		t.Errorf("download body = %q, want content", got)
	}

	resp = ts.do(t, "alice", http.MethodGet, "/api/file_versions/unknown", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown record status = %d, want 404", resp.StatusCode)
	}

	ts.store.Delete(rec.Digest)
	resp = ts.do(t, "alice", http.MethodGet, "/api/file_versions/"+rec.ID+"/download", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing content status = %d, want 404", resp.StatusCode)
	}
	if body := decode[errorResponse](t, resp); body.Error != "file does not exist on the server" {
		t.Errorf("error = %q", body.Error)
	}
}

func TestServer_CreateDirectory(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "created", body: `{"parent":"","name":"docs"}`, wantStatus: http.StatusCreated},
		{name: "already exists", body: `{"parent":"","name":"docs"}`, wantStatus: http.StatusConflict},
		{name: "nested", body: `{"parent":"docs","name":"2024"}`, wantStatus: http.StatusCreated},
		{name: "invalid name", body: `{"parent":"","name":"a/b"}`, wantStatus: http.StatusBadRequest},
		{name: "escaping parent", body: `{"parent":"..","name":"x"}`, wantStatus: http.StatusBadRequest},
		{name: "missing parent", body: `{"parent":"nowhere","name":"x"}`, wantStatus: http.StatusNotFound},
		{name: "malformed body", body: `{`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, "alice", http.MethodPost, "/api/directories/", strings.NewReader(tt.body), "application/json")
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t)
	ts.upload(t, "alice", nil, "a.txt", "hello")

	resp := ts.do(t, "", http.MethodGet, "/metrics", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := readBody(t, resp)
	if !strings.Contains(body, `dm_uploads_total{outcome="created"} 1`) {
		t.Errorf("metrics output missing upload counter:\n%s", body)
	}
}
