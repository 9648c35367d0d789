package web

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/retouchapp/retouch/internal/genimg"
	"github.com/retouchapp/retouch/internal/logging"
	"github.com/retouchapp/retouch/internal/persistence"
)

func newTestServer(t *testing.T, svc genimg.Service) *Server {
	t.Helper()
	records := persistence.NewRecordStore(t.TempDir())
	s, err := NewServer("", svc, nil, nil, records, nil, logging.New(logging.LevelError, io.Discard))
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return s
}

func testSessionCookie(t *testing.T) *http.Cookie {
	t.Helper()
	id, err := GenerateSessionID()
	if err != nil {
		t.Fatalf("GenerateSessionID() error = %v", err)
	}
	return &http.Cookie{Name: SessionCookieName, Value: id}
}

// testPNG encodes a small solid-color PNG.
func testPNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

// uploadImage posts a multipart image upload for the given session.
func uploadImage(t *testing.T, s *Server, cookie *http.Cookie, data []byte, mimeType string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="image"; filename="photo"`)
	header.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("CreatePart() error = %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("part.Write() error = %v", err)
	}
	mw.Close()

	req := httptest.NewRequest("POST", "/image", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w, req)
	return w
}

// postEdit posts an edit request for the given session.
func postEdit(t *testing.T, s *Server, cookie *http.Cookie, prompt string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{"prompt": {prompt}}
	req := httptest.NewRequest("POST", "/edit", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w, req)
	return w
}

// getState fetches and decodes the session snapshot.
func getState(t *testing.T, s *Server, cookie *http.Cookie) statePayload {
	t.Helper()
	req := httptest.NewRequest("GET", "/state", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /state status = %d, want %d", w.Code, http.StatusOK)
	}
	var snap statePayload
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return snap
}

func TestNewServer(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		wantAddr string
	}{
		{
			name:     "custom address",
			addr:     "localhost:9090",
			wantAddr: "localhost:9090",
		},
		{
			name:     "empty address uses default",
			addr:     "",
			wantAddr: DefaultAddr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewServer(tt.addr, nil, nil, nil, nil, nil, logging.New(logging.LevelError, io.Discard))
			if err != nil {
				t.Fatalf("NewServer() error = %v", err)
			}
			if s.addr != tt.wantAddr {
				t.Errorf("addr = %q, want %q", s.addr, tt.wantAddr)
			}
			if s.server.Addr != tt.wantAddr {
				t.Errorf("server.Addr = %q, want %q", s.server.Addr, tt.wantAddr)
			}
		})
	}
}

func TestServer_Routes(t *testing.T) {
	tests := []struct {
		name            string
		method          string
		path            string
		wantStatusCode  int
		wantContentType string
		bodyContains    string
	}{
		{
			name:            "GET / returns index",
			method:          "GET",
			path:            "/",
			wantStatusCode:  http.StatusOK,
			wantContentType: "text/html",
			bodyContains:    "Retouch",
		},
		{
			name:            "GET /ready returns ready",
			method:          "GET",
			path:            "/ready",
			wantStatusCode:  http.StatusOK,
			wantContentType: "application/json",
			bodyContains:    `"ready"`,
		},
		{
			name:            "GET /state returns empty snapshot",
			method:          "GET",
			path:            "/state",
			wantStatusCode:  http.StatusOK,
			wantContentType: "application/json",
			bodyContains:    `"phase":"empty"`,
		},
		{
			name:           "PUT /edit wrong method returns 405",
			method:         "PUT",
			path:           "/edit",
			wantStatusCode: http.StatusMethodNotAllowed,
		},
		{
			name:           "GET /images missing image returns 400",
			method:         "GET",
			path:           "/images/not-a-uuid",
			wantStatusCode: http.StatusBadRequest,
		},
	}

	s := newTestServer(t, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()

			s.server.Handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantStatusCode)
			}

			if tt.wantContentType != "" {
				contentType := w.Header().Get("Content-Type")
				if !strings.Contains(contentType, tt.wantContentType) {
					t.Errorf("Content-Type = %q, want to contain %q", contentType, tt.wantContentType)
				}
			}

			if tt.bodyContains != "" {
				body := w.Body.String()
				if !strings.Contains(body, tt.bodyContains) {
					t.Errorf("body = %q, want to contain %q", body, tt.bodyContains)
				}
			}
		})
	}
}

func TestServer_UploadAndEdit(t *testing.T) {
	svc := genimg.NewMockService()
	s := newTestServer(t, svc)
	cookie := testSessionCookie(t)

	w := uploadImage(t, s, cookie, []byte("jpeg-bytes"), "image/jpeg")
	if w.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "/images/") {
		t.Errorf("upload body should contain an image URL, got %q", w.Body.String())
	}

	snap := getState(t, s, cookie)
	if snap.Phase != "ready" {
		t.Errorf("phase after upload = %q, want %q", snap.Phase, "ready")
	}
	if snap.HasState {
		t.Error("has_state should be false before any edit")
	}

	w = postEdit(t, s, cookie, "make it warmer")
	if w.Code != http.StatusOK {
		t.Fatalf("edit status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"kind":"image"`) {
		t.Errorf("edit body = %q, want image kind", w.Body.String())
	}

	if svc.CallCount() != 1 {
		t.Errorf("service calls = %d, want 1", svc.CallCount())
	}
	if got := svc.Calls[0].Instruction; got != "make it warmer" {
		t.Errorf("instruction = %q, want %q", got, "make it warmer")
	}

	snap = getState(t, s, cookie)
	if snap.Phase != "edited" {
		t.Errorf("phase after edit = %q, want %q", snap.Phase, "edited")
	}
	if !snap.HasState {
		t.Fatal("has_state should be true after an edit")
	}
	if snap.State.Prompt != "make it warmer" {
		t.Errorf("prompt = %q, want %q", snap.State.Prompt, "make it warmer")
	}
	if snap.State.OriginalURL == "" || snap.State.EditedURL == "" {
		t.Errorf("state URLs should be set, got %+v", snap.State)
	}
	if snap.CanUndo {
		t.Error("can_undo should be false with a single entry")
	}
}

// Each edit runs against the loaded source image, not against the
// previous edit's output.
func TestServer_EditsUseSourceImage(t *testing.T) {
	svc := genimg.NewMockService()
	s := newTestServer(t, svc)
	cookie := testSessionCookie(t)

	uploadImage(t, s, cookie, []byte("source-bytes"), "image/jpeg")
	postEdit(t, s, cookie, "first")
	postEdit(t, s, cookie, "second")

	if svc.CallCount() != 2 {
		t.Fatalf("service calls = %d, want 2", svc.CallCount())
	}
	for i, call := range svc.Calls {
		if string(call.Data) != "source-bytes" {
			t.Errorf("call %d data = %q, want source bytes", i, call.Data)
		}
	}
}

func TestServer_Edit_GuardErrors(t *testing.T) {
	tests := []struct {
		name       string
		upload     bool
		prompt     string
		wantStatus int
	}{
		{
			name:       "no image loaded",
			upload:     false,
			prompt:     "brighten",
			wantStatus: http.StatusConflict,
		},
		{
			name:       "empty prompt",
			upload:     true,
			prompt:     "",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "whitespace prompt",
			upload:     true,
			prompt:     "   ",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := genimg.NewMockService()
			s := newTestServer(t, svc)
			cookie := testSessionCookie(t)

			if tt.upload {
				uploadImage(t, s, cookie, []byte("jpeg-bytes"), "image/jpeg")
			}

			w := postEdit(t, s, cookie, tt.prompt)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if svc.CallCount() != 0 {
				t.Errorf("service should not be called, got %d calls", svc.CallCount())
			}
		})
	}
}

func TestServer_Upload_RejectsNonImage(t *testing.T) {
	s := newTestServer(t, nil)
	cookie := testSessionCookie(t)

	w := uploadImage(t, s, cookie, []byte("<html></html>"), "text/html")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	snap := getState(t, s, cookie)
	if snap.Phase != "empty" {
		t.Errorf("phase = %q, want empty after rejected upload", snap.Phase)
	}
}

func TestServer_Edit_TextOnlyResult(t *testing.T) {
	svc := genimg.NewMockService()
	svc.Result = genimg.Result{Kind: genimg.KindTextOnly, Text: "I cannot edit that."}
	s := newTestServer(t, svc)
	cookie := testSessionCookie(t)

	uploadImage(t, s, cookie, []byte("jpeg-bytes"), "image/jpeg")

	w := postEdit(t, s, cookie, "do something impossible")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `"kind":"text-only"`) {
		t.Errorf("body = %q, want text-only kind", w.Body.String())
	}

	// History must be untouched and the session editable again.
	snap := getState(t, s, cookie)
	if snap.Phase != "ready" {
		t.Errorf("phase = %q, want ready", snap.Phase)
	}
	if snap.HasState {
		t.Error("has_state should be false after a text-only result")
	}
	if snap.Busy {
		t.Error("busy should be cleared after a text-only result")
	}
}

func TestServer_Edit_ServiceError(t *testing.T) {
	svc := genimg.NewMockService()
	svc.Err = genimg.ErrRequestFailed
	s := newTestServer(t, svc)
	cookie := testSessionCookie(t)

	uploadImage(t, s, cookie, []byte("jpeg-bytes"), "image/jpeg")

	w := postEdit(t, s, cookie, "brighten")
	if !strings.Contains(w.Body.String(), `"status":"error"`) {
		t.Errorf("body = %q, want error status", w.Body.String())
	}

	// A failed edit leaves the session editable.
	snap := getState(t, s, cookie)
	if snap.Busy {
		t.Error("busy should be cleared after a failed edit")
	}

	svc.Err = nil
	w = postEdit(t, s, cookie, "brighten")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"kind":"image"`) {
		t.Errorf("retry after failure: status = %d, body = %q", w.Code, w.Body.String())
	}
}

func TestServer_UndoRedo(t *testing.T) {
	svc := genimg.NewMockService()
	s := newTestServer(t, svc)
	cookie := testSessionCookie(t)

	uploadImage(t, s, cookie, []byte("jpeg-bytes"), "image/jpeg")
	postEdit(t, s, cookie, "first edit")
	postEdit(t, s, cookie, "second edit")

	snap := getState(t, s, cookie)
	if snap.State.Prompt != "second edit" {
		t.Fatalf("current prompt = %q, want %q", snap.State.Prompt, "second edit")
	}
	if !snap.CanUndo || snap.CanRedo {
		t.Errorf("can_undo = %v, can_redo = %v, want true/false", snap.CanUndo, snap.CanRedo)
	}

	req := httptest.NewRequest("POST", "/undo", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), `"first edit"`) {
		t.Errorf("undo body = %q, want first edit state", w.Body.String())
	}

	req = httptest.NewRequest("POST", "/redo", nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), `"second edit"`) {
		t.Errorf("redo body = %q, want second edit state", w.Body.String())
	}

	// Undo past the first entry is a no-op.
	for i := 0; i < 3; i++ {
		req = httptest.NewRequest("POST", "/undo", nil)
		req.AddCookie(cookie)
		w = httptest.NewRecorder()
		s.server.Handler.ServeHTTP(w, req)
	}
	if !strings.Contains(w.Body.String(), `"noop"`) {
		t.Errorf("undo at first entry body = %q, want noop", w.Body.String())
	}

	snap = getState(t, s, cookie)
	if snap.State.Prompt != "first edit" {
		t.Errorf("prompt after undo to start = %q, want %q", snap.State.Prompt, "first edit")
	}
}

// An edit result that arrives after a new image was loaded is discarded:
// the new session state must not change.
func TestServer_StaleEditResultDiscarded(t *testing.T) {
	svc := genimg.NewMockService()
	svc.Block = make(chan struct{})
	s := newTestServer(t, svc)
	cookie := testSessionCookie(t)

	uploadImage(t, s, cookie, []byte("first-image"), "image/jpeg")

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- postEdit(t, s, cookie, "slow edit")
	}()

	// Wait until the edit is in flight, then load a new image.
	deadline := time.After(2 * time.Second)
	for svc.CallCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("edit never reached the service")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// Loading proceeds regardless of the in-flight edit.
	w := uploadImage(t, s, cookie, []byte("second-image"), "image/png")
	if w.Code != http.StatusOK {
		t.Fatalf("second upload status = %d, body = %s", w.Code, w.Body.String())
	}

	close(svc.Block)
	editResp := <-done
	if !strings.Contains(editResp.Body.String(), `"stale"`) {
		t.Errorf("edit body = %q, want stale kind", editResp.Body.String())
	}

	snap := getState(t, s, cookie)
	if snap.Phase != "ready" {
		t.Errorf("phase = %q, want ready", snap.Phase)
	}
	if snap.HasState {
		t.Error("stale result must not enter history")
	}
	if snap.Busy {
		t.Error("busy should be cleared after a discarded result")
	}
}

func TestServer_Export(t *testing.T) {
	original := testPNG(t, color.RGBA{R: 255, A: 255})
	edited := testPNG(t, color.RGBA{B: 255, A: 255})

	svc := genimg.NewMockService()
	svc.Result = genimg.Result{Kind: genimg.KindImage, ImageData: edited, ImageMimeType: "image/png"}
	s := newTestServer(t, svc)
	cookie := testSessionCookie(t)

	uploadImage(t, s, cookie, original, "image/png")
	postEdit(t, s, cookie, "make it blue")

	req := httptest.NewRequest("GET", "/export?opacity=0.5", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	if _, err := png.Decode(bytes.NewReader(w.Body.Bytes())); err != nil {
		t.Errorf("export is not a valid PNG: %v", err)
	}
}

func TestServer_Export_Errors(t *testing.T) {
	original := testPNG(t, color.RGBA{R: 255, A: 255})

	svc := genimg.NewMockService()
	svc.Result = genimg.Result{Kind: genimg.KindImage, ImageData: testPNG(t, color.RGBA{B: 255, A: 255}), ImageMimeType: "image/png"}
	s := newTestServer(t, svc)
	cookie := testSessionCookie(t)

	// Nothing to export yet
	req := httptest.NewRequest("GET", "/export", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("export without state: status = %d, want %d", w.Code, http.StatusNotFound)
	}

	uploadImage(t, s, cookie, original, "image/png")
	postEdit(t, s, cookie, "make it blue")

	req = httptest.NewRequest("GET", "/export?opacity=1.5", nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("export with bad opacity: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestServer_ImageServing(t *testing.T) {
	svc := genimg.NewMockService()
	s := newTestServer(t, svc)
	cookie := testSessionCookie(t)

	w := uploadImage(t, s, cookie, []byte("jpeg-bytes"), "image/jpeg")
	var resp struct {
		ImageURL string `json:"image_url"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}

	req := httptest.NewRequest("GET", resp.ImageURL, nil)
	req.AddCookie(cookie)
	w2 := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w2, req)

	if w2.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w2.Code, http.StatusOK)
	}
	if got := w2.Body.String(); got != "jpeg-bytes" {
		t.Errorf("body = %q, want original bytes", got)
	}
	if ct := w2.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q, want image/jpeg", ct)
	}

	req = httptest.NewRequest("GET", "/images/00000000-0000-0000-0000-000000000000", nil)
	w2 = httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w2, req)
	if w2.Code != http.StatusNotFound {
		t.Errorf("unknown image: status = %d, want %d", w2.Code, http.StatusNotFound)
	}
}

func TestServer_Reset(t *testing.T) {
	svc := genimg.NewMockService()
	s := newTestServer(t, svc)
	cookie := testSessionCookie(t)

	uploadImage(t, s, cookie, []byte("jpeg-bytes"), "image/jpeg")
	postEdit(t, s, cookie, "brighten")

	req := httptest.NewRequest("POST", "/reset", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("reset status = %d", w.Code)
	}

	snap := getState(t, s, cookie)
	if snap.Phase != "empty" {
		t.Errorf("phase after reset = %q, want empty", snap.Phase)
	}
}

func TestServer_SessionIsolation(t *testing.T) {
	svc := genimg.NewMockService()
	s := newTestServer(t, svc)
	cookieA := testSessionCookie(t)
	cookieB := testSessionCookie(t)

	uploadImage(t, s, cookieA, []byte("jpeg-bytes"), "image/jpeg")
	postEdit(t, s, cookieA, "brighten")

	snapB := getState(t, s, cookieB)
	if snapB.Phase != "empty" {
		t.Errorf("session B phase = %q, want empty", snapB.Phase)
	}
}
