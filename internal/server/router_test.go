package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/fsroute/internal/response"
	"github.com/any-hub/fsroute/internal/route"
)

type dispatchRecorder struct {
	path string
	req  route.Request
	env  *response.Envelope
}

func (d *dispatchRecorder) Dispatch(_ context.Context, path string, req route.Request) *response.Envelope {
	d.path = path
	d.req = req
	if d.env != nil {
		return d.env
	}
	return response.JSON(map[string]any{"ok": true})
}

func newTestApp(t *testing.T, opts AppOptions) (*fiber.App, *dispatchRecorder) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	recorder := &dispatchRecorder{}
	opts.Logger = logger
	opts.Dispatcher = recorder
	app, err := NewApp(opts)
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return app, recorder
}

func TestRouterForwardsRequestToDispatcher(t *testing.T) {
	app, recorder := newTestApp(t, AppOptions{})

	req := httptest.NewRequest("POST", "http://fsroute.local/user/42?sort=asc", strings.NewReader(`{"name":"ada"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Trace", "abc")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if recorder.path != "/user/42?sort=asc" || recorder.req.Method != "POST" {
		t.Fatalf("unexpected dispatch %q %s", recorder.path, recorder.req.Method)
	}
	if recorder.req.Headers["x-trace"] != "abc" {
		t.Fatalf("headers should be lower-cased: %v", recorder.req.Headers)
	}
	body, ok := recorder.req.Body.(map[string]any)
	if !ok || body["name"] != "ada" {
		t.Fatalf("JSON body not decoded: %#v", recorder.req.Body)
	}
	reqID := resp.Header.Get("X-Request-ID")
	if reqID == "" || recorder.req.RequestID != reqID {
		t.Fatalf("request id should be generated and forwarded, got %q / %q", reqID, recorder.req.RequestID)
	}
}

func TestRouterRejectsInvalidJSON(t *testing.T) {
	app, _ := newTestApp(t, AppOptions{})
	req := httptest.NewRequest("POST", "/x", strings.NewReader(`{`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestRouterDecodesMultipartUploads(t *testing.T) {
	app, recorder := newTestApp(t, AppOptions{})

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("title", "doc")
	part, _ := w.CreateFormFile("file", "a.txt")
	_, _ = part.Write([]byte("hello"))
	_ = w.Close()

	req := httptest.NewRequest("POST", "/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if _, err := app.Test(req); err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}

	fields, ok := recorder.req.Body.(map[string]any)
	if !ok || fields["title"] != "doc" {
		t.Fatalf("form fields missing: %#v", recorder.req.Body)
	}
	if len(recorder.req.Files) != 1 {
		t.Fatalf("expected one file, got %d", len(recorder.req.Files))
	}
	if fh, ok := recorder.req.Files[0].(*multipart.FileHeader); !ok || fh.Filename != "a.txt" {
		t.Fatalf("unexpected file %#v", recorder.req.Files[0])
	}
}

func TestRouterWritesEnvelopeKinds(t *testing.T) {
	cases := []struct {
		name        string
		env         *response.Envelope
		code        int
		contentType string
		body        string
	}{
		{"text", response.Text("hi"), 200, "text/plain; charset=utf-8", "hi"},
		{"buffer", response.Buffer([]byte{1, 2, 3}, "image/png"), 200, "image/png", "\x01\x02\x03"},
		{"stream", response.Stream(strings.NewReader("streamed"), "text/csv", 8), 200, "text/csv", "streamed"},
		{"stream func", response.Stream(func(start, end int64) ([]byte, error) {
			if start >= 3 {
				return nil, nil
			}
			return []byte("abc"), nil
		}, "", -1), 200, response.MIMEOctetStream, "abc"},
		{"status", response.Status(404, "nothing here"), 404, "application/json", `{"code":404,"status":"Not Found","message":"nothing here"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app, recorder := newTestApp(t, AppOptions{})
			recorder.env = tc.env
			resp, err := app.Test(httptest.NewRequest("GET", "/x", nil))
			if err != nil {
				t.Fatalf("app.Test failed: %v", err)
			}
			raw, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != tc.code || string(raw) != tc.body {
				t.Fatalf("expected %d %q, got %d %q", tc.code, tc.body, resp.StatusCode, raw)
			}
			if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, tc.contentType) {
				t.Fatalf("expected content type %q, got %q", tc.contentType, got)
			}
		})
	}
}

func TestRouterWritesHeadersAndDisposition(t *testing.T) {
	app, recorder := newTestApp(t, AppOptions{})
	recorder.env = response.HTML("<p>x</p>").WithSecurityPolicy("default-src 'self'").WithDisposition(true, "page.html")

	resp, err := app.Test(httptest.NewRequest("GET", "/x", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.Header.Get("Content-Security-Policy") != "default-src 'self'" {
		t.Fatalf("missing security policy header")
	}
	if resp.Header.Get("Content-Disposition") != `attachment; filename=page.html` {
		t.Fatalf("unexpected disposition %q", resp.Header.Get("Content-Disposition"))
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("html responses should carry nosniff")
	}
}

func TestOriginGuard(t *testing.T) {
	app, recorder := newTestApp(t, AppOptions{AllowOrigins: []string{"https://app.example"}})

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	var body statusBody
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.Message != ErrOriginNotAllowed.Error() {
		t.Fatalf("unexpected body %+v", body)
	}
	if recorder.path != "" {
		t.Fatalf("rejected requests must not reach the dispatcher")
	}

	req = httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("Origin", "https://app.example")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK || resp.Header.Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Fatalf("allowed origin should pass with CORS headers, got %d %q", resp.StatusCode, resp.Header.Get("Access-Control-Allow-Origin"))
	}
}

func TestNewAppValidatesOptions(t *testing.T) {
	if _, err := NewApp(AppOptions{}); err == nil {
		t.Fatalf("missing logger should fail")
	}
	if _, err := NewApp(AppOptions{Logger: logrus.New()}); err == nil {
		t.Fatalf("missing dispatcher should fail")
	}
}
