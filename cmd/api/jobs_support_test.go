package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yourusername/tune-forge/internal/jobs"
	"github.com/yourusername/tune-forge/internal/media"
	"github.com/yourusername/tune-forge/internal/storage"
)

const testOrigin = "http://localhost:5173"

type stubResolver struct {
	hang bool
}

func (s *stubResolver) Resolve(ctx context.Context, mediaID string) (*media.Metadata, error) {
	if s.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &media.Metadata{
		Title:    "Café Song",
		Artist:   "Band",
		Variants: []media.Variant{{Bitrate: "128kbps", Ref: "140"}},
	}, nil
}

type stubOpener struct{}

func (stubOpener) OpenStream(ctx context.Context, mediaID string, v media.Variant) (io.ReadCloser, int64, error) {
	return io.NopCloser(strings.NewReader("raw-audio")), 9, nil
}

type stubTranscoder struct{}

func (stubTranscoder) Transcode(ctx context.Context, req media.TranscodeRequest, onProgress media.ProgressFunc) error {
	onProgress(30*time.Second, 60*time.Second)
	return os.WriteFile(req.OutputPath, []byte("m4a-bytes"), 0o640)
}

func newTestRouter(t *testing.T, resolver media.Resolver) (*gin.Engine, *jobs.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	manager, err := jobs.NewManager(jobs.NewStore(), jobs.Dependencies{
		Resolver:   resolver,
		Opener:     stubOpener{},
		Transcoder: stubTranscoder{},
		Storage:    storage.NewLocal(t.TempDir()),
	}, jobs.Options{}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})

	router := gin.New()
	setupRoutes(router, manager, 10*time.Millisecond, []string{testOrigin})
	return router, manager
}

func doRequest(router *gin.Engine, method, path string, body io.Reader) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON %q: %v", rec.Body.String(), err)
	}
	return out
}

func waitForStatus(t *testing.T, manager *jobs.Manager, jobID string) jobs.Record {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if r, ok := manager.Status(jobID); ok && r.Status.IsTerminal() {
			return r
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", jobID)
	return jobs.Record{}
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t, &stubResolver{})
	rec := doRequest(router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestSubmitRequiresMediaID(t *testing.T) {
	router, _ := newTestRouter(t, &stubResolver{})

	rec := doRequest(router, http.MethodPost, "/api/jobs", bytes.NewBufferString(`{"mediaId":"  "}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body := decodeBody(t, rec); body["code"] != "INVALID_INPUT" {
		t.Fatalf("body = %v", body)
	}

	rec = doRequest(router, http.MethodPost, "/api/jobs", bytes.NewBufferString(`not json`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSubmitStatusAndDownload(t *testing.T) {
	router, manager := newTestRouter(t, &stubResolver{})

	rec := doRequest(router, http.MethodPost, "/api/jobs", bytes.NewBufferString(`{"mediaId":"abc","quality":"low"}`))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	jobID, _ := body["jobId"].(string)
	if jobID == "" {
		t.Fatalf("missing jobId: %v", body)
	}

	waitForStatus(t, manager, jobID)

	rec = doRequest(router, http.MethodGet, "/api/jobs/"+jobID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	status := decodeBody(t, rec)
	if status["status"] != "completed" || status["quality"] != "low" {
		t.Fatalf("status body = %v", status)
	}
	if status["downloadUrl"] != "/api/jobs/"+jobID+"/download" {
		t.Fatalf("downloadUrl = %v", status["downloadUrl"])
	}
	progress, _ := status["progress"].(map[string]any)
	if progress["percent"] != float64(100) {
		t.Fatalf("progress = %v", progress)
	}

	rec = doRequest(router, http.MethodGet, "/api/jobs/"+jobID+"/download", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("download status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "audio/mp4" {
		t.Fatalf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("X-Job-Id"); got != jobID {
		t.Fatalf("X-Job-Id = %q", got)
	}
	disposition := rec.Header().Get("Content-Disposition")
	if !strings.Contains(disposition, `filename="Caf_ Song.m4a"`) || !strings.Contains(disposition, "filename*=UTF-8''Caf%C3%A9%20Song.m4a") {
		t.Fatalf("Content-Disposition = %q", disposition)
	}
	if rec.Body.String() != "m4a-bytes" {
		t.Fatalf("body = %q", rec.Body.String())
	}

	rec = doRequest(router, http.MethodGet, "/api/jobs", nil)
	list := decodeBody(t, rec)
	if items, _ := list["jobs"].([]any); len(items) != 1 {
		t.Fatalf("list = %v", list)
	}
}

func TestLegacyDownloadRoute(t *testing.T) {
	router, manager := newTestRouter(t, &stubResolver{})

	rec := doRequest(router, http.MethodGet, "/api/download/abc?quality=medium", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	jobID, _ := decodeBody(t, rec)["jobId"].(string)
	if r := waitForStatus(t, manager, jobID); r.Quality != "medium" || r.MediaID != "abc" {
		t.Fatalf("record = %+v", r)
	}
}

func TestUnknownJob(t *testing.T) {
	router, _ := newTestRouter(t, &stubResolver{})

	rec := doRequest(router, http.MethodGet, "/api/jobs/missing", nil)
	if rec.Code != http.StatusNotFound || decodeBody(t, rec)["code"] != "JOB_NOT_FOUND" {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(router, http.MethodGet, "/api/jobs/missing/download", nil)
	if rec.Code != http.StatusNotFound || decodeBody(t, rec)["code"] != "JOB_RESULT_NOT_READY" {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(router, http.MethodPost, "/api/jobs/missing/cancel", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cancel status = %d", rec.Code)
	}
}

func TestCancelJob(t *testing.T) {
	router, manager := newTestRouter(t, &stubResolver{hang: true})
	jobID := manager.Submit("abc", "high")

	rec := doRequest(router, http.MethodGet, "/api/jobs/"+jobID+"/download", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("download of processing job = %d, want 404", rec.Code)
	}

	rec = doRequest(router, http.MethodPost, "/api/jobs/"+jobID+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, body = %s", rec.Code, rec.Body.String())
	}

	r := waitForStatus(t, manager, jobID)
	if r.Status != jobs.StatusCancelled {
		t.Fatalf("status = %s", r.Status)
	}

	rec = doRequest(router, http.MethodPost, "/api/jobs/"+jobID+"/cancel", nil)
	if rec.Code != http.StatusConflict || decodeBody(t, rec)["code"] != "JOB_FINISHED" {
		t.Fatalf("second cancel status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestJobWebSocketPushesUntilTerminal(t *testing.T) {
	router, manager := newTestRouter(t, &stubResolver{})
	srv := httptest.NewServer(router)
	defer srv.Close()

	jobID := manager.Submit("abc", "high")
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/jobs/" + jobID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	last := -1.0
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read error before terminal status: %v", err)
		}
		progress, _ := msg["progress"].(map[string]any)
		percent, _ := progress["percent"].(float64)
		if percent < last {
			t.Fatalf("progress went backwards: %v -> %v", last, percent)
		}
		last = percent
		if msg["status"] == "completed" {
			break
		}
	}
	if last != 100 {
		t.Fatalf("final percent = %v", last)
	}
}

func TestJobWebSocketOriginCheck(t *testing.T) {
	router, manager := newTestRouter(t, &stubResolver{hang: true})
	srv := httptest.NewServer(router)
	defer srv.Close()

	jobID := manager.Submit("abc", "high")
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/jobs/" + jobID + "/ws"

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		conn.Close()
		t.Fatal("dial from foreign origin should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("response = %+v, want 403", resp)
	}

	header.Set("Origin", testOrigin)
	conn, _, err = websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial from allowed origin: %v", err)
	}
	conn.Close()
}

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"http://localhost:5173", " https://app.example/ "}
	cases := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:5173", true},
		{"https://app.example", true},
		{"HTTPS://APP.EXAMPLE", true},
		{"http://localhost:3000", false},
		{"https://app.example.evil", false},
	}
	for _, tc := range cases {
		if got := originAllowed(tc.origin, allowed); got != tc.want {
			t.Fatalf("originAllowed(%q) = %v, want %v", tc.origin, got, tc.want)
		}
	}
	if !originAllowed("https://any.example", []string{"*"}) {
		t.Fatal("wildcard should allow any origin")
	}
}

func TestJobWebSocketUnknownJob(t *testing.T) {
	router, _ := newTestRouter(t, &stubResolver{})
	rec := doRequest(router, http.MethodGet, "/api/jobs/missing/ws", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAsciiFallback(t *testing.T) {
	if got := asciiFallback(`a"b\cé`); got != "a_b_c_" {
		t.Fatalf("asciiFallback = %q", got)
	}
}
