package handle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"med-analyzer/api/internal/vision"
)

type stubEngine struct {
	text string
	err  error

	calls       int
	got         vision.Input
	hadDeadline bool
	deadline    time.Time
}

func (s *stubEngine) Analyze(ctx context.Context, in vision.Input) (string, error) {
	s.calls++
	s.got = in
	s.deadline, s.hadDeadline = ctx.Deadline()
	return s.text, s.err
}

func newTestHandle(eng vision.Engine, opts Options) *Handle {
	return New(eng, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

var pixel = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

func validBody() string {
	return `{"imageData":"` + base64.StdEncoding.EncodeToString(pixel) + `","mimeType":"image/png"}`
}

func postAnalyze(t *testing.T, h *Handle, body string) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/analyze-image", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	var out map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not a JSON object: %q", rec.Body.String())
	}
	return rec, out
}

func TestAnalyzeImageBadRequests(t *testing.T) {
	b64 := base64.StdEncoding.EncodeToString(pixel)
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"empty body", "", msgNotJSON},
		{"not json", "imageData=abc", msgNotJSON},
		{"json array", `[1,2]`, msgNotJSON},
		{"json null", `null`, msgNotJSON},
		{"truncated", `{"imageData":`, msgNotJSON},
		{"trailing value", validBody() + `{}`, msgNotJSON},
		{"wrong type", `{"imageData":5,"mimeType":"image/png"}`, msgNotJSON},
		{"empty object", `{}`, msgMissingFields},
		{"missing imageData", `{"mimeType":"image/png"}`, msgMissingFields},
		{"missing mimeType", `{"imageData":"` + b64 + `"}`, msgMissingFields},
		{"empty imageData", `{"imageData":"","mimeType":"image/png"}`, msgMissingFields},
		{"empty mimeType", `{"imageData":"` + b64 + `","mimeType":""}`, msgMissingFields},
		{"blank mimeType", `{"imageData":"` + b64 + `","mimeType":"   "}`, msgMissingFields},
		{"blank imageData", `{"imageData":" \t ","mimeType":"image/png"}`, msgMissingFields},
		{"null fields", `{"imageData":null,"mimeType":null}`, msgMissingFields},
		{"wrong case keys", `{"ImageData":"` + b64 + `","MIMETYPE":"image/png"}`, msgMissingFields},
		{"wrong case imageData", `{"imagedata":"` + b64 + `","mimeType":"image/png"}`, msgMissingFields},
		{"wrong case mimeType", `{"imageData":"` + b64 + `","MimeType":"image/png"}`, msgMissingFields},
		{"bad base64", `{"imageData":"@@@ not base64","mimeType":"image/png"}`, msgBadBase64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &stubEngine{text: "should not be used"}
			rec, out := postAnalyze(t, newTestHandle(eng, Options{}), tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if out["error"] != tt.wantErr {
				t.Fatalf("error = %q, want %q", out["error"], tt.wantErr)
			}
			if eng.calls != 0 {
				t.Fatalf("engine called %d times", eng.calls)
			}
		})
	}
}

func TestAnalyzeImageSuccess(t *testing.T) {
	eng := &stubEngine{text: "Findings: none."}
	rec, out := postAnalyze(t, newTestHandle(eng, Options{}), validBody())

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("content type = %q", got)
	}
	if len(out) != 1 || out["analysis"] != "Findings: none." {
		t.Fatalf("body = %v", out)
	}
	if eng.calls != 1 {
		t.Fatalf("engine called %d times", eng.calls)
	}
	if !bytes.Equal(eng.got.Image, pixel) || eng.got.MIMEType != "image/png" {
		t.Fatalf("engine input = %+v", eng.got)
	}
	if eng.got.Instruction != vision.Instruction {
		t.Fatal("instruction not forwarded")
	}
	if eng.hadDeadline {
		t.Fatal("unexpected deadline without timeout configured")
	}
}

func TestAnalyzeImageDataURL(t *testing.T) {
	eng := &stubEngine{text: "ok"}
	body := `{"imageData":"data:image/png;base64,` + base64.StdEncoding.EncodeToString(pixel) + `","mimeType":"image/png"}`
	rec, _ := postAnalyze(t, newTestHandle(eng, Options{}), body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !bytes.Equal(eng.got.Image, pixel) {
		t.Fatalf("image = %v", eng.got.Image)
	}
}

func TestAnalyzeImageEmptyResult(t *testing.T) {
	tests := []struct {
		name        string
		eng         *stubEngine
		wantDetails string
	}{
		{"empty text", &stubEngine{text: ""}, "No text in response."},
		{"blank text", &stubEngine{text: " \n"}, "No text in response."},
		{"blocked", &stubEngine{err: &vision.EmptyResultError{Feedback: "block_reason=SAFETY"}}, "Prompt feedback: block_reason=SAFETY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := postAnalyze(t, newTestHandle(tt.eng, Options{}), validBody())
			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d", rec.Code)
			}
			if out["error"] != msgEmptyResult {
				t.Fatalf("error = %q", out["error"])
			}
			if out["details"] != tt.wantDetails {
				t.Fatalf("details = %q", out["details"])
			}
		})
	}
}

func TestAnalyzeImageQuotaExhausted(t *testing.T) {
	for name, err := range map[string]error{
		"text":        errors.New("googleapi: ResourceExhausted: quota exceeded"),
		"grpc status": status.Error(codes.ResourceExhausted, "quota exceeded"),
	} {
		t.Run(name, func(t *testing.T) {
			rec, out := postAnalyze(t, newTestHandle(&stubEngine{err: err}, Options{}), validBody())
			if rec.Code != http.StatusTooManyRequests {
				t.Fatalf("status = %d", rec.Code)
			}
			if out["error"] != msgQuota {
				t.Fatalf("error = %q", out["error"])
			}
			if out["backend_detail"] != err.Error() {
				t.Fatalf("backend_detail = %q", out["backend_detail"])
			}
		})
	}
}

func TestAnalyzeImageOtherError(t *testing.T) {
	boom := errors.New("connection reset by peer")
	rec, out := postAnalyze(t, newTestHandle(&stubEngine{err: boom}, Options{}), validBody())
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if out["backend_detail"] != boom.Error() {
		t.Fatalf("backend_detail = %q", out["backend_detail"])
	}
	if out["error"] != "Unexpected backend error: "+boom.Error() {
		t.Fatalf("error = %q", out["error"])
	}
	if _, ok := out["details"]; ok {
		t.Fatal("details should be omitted")
	}
}

func TestAnalyzeImageMethodNotAllowed(t *testing.T) {
	eng := &stubEngine{}
	req := httptest.NewRequest(http.MethodGet, "/analyze-image", nil)
	rec := httptest.NewRecorder()
	newTestHandle(eng, Options{}).Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
	if eng.calls != 0 {
		t.Fatal("engine called")
	}
}

func TestAnalyzeImageBodyTooLarge(t *testing.T) {
	eng := &stubEngine{text: "ok"}
	rec, _ := postAnalyze(t, newTestHandle(eng, Options{MaxBodyBytes: 16}), validBody())
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", rec.Code)
	}
	if eng.calls != 0 {
		t.Fatal("engine called")
	}
}

func TestAnalyzeImageDeadline(t *testing.T) {
	eng := &stubEngine{text: "ok"}
	h := newTestHandle(eng, Options{Timeout: time.Minute})

	before := time.Now()
	postAnalyze(t, h, validBody())
	if !eng.hadDeadline || eng.deadline.Sub(before) > time.Minute+time.Second {
		t.Fatalf("deadline = %v (set=%v)", eng.deadline, eng.hadDeadline)
	}

	req := httptest.NewRequest(http.MethodPost, "/analyze-image", strings.NewReader(validBody()))
	req.Header.Set("X-Request-Timeout", "5")
	before = time.Now()
	h.Routes().ServeHTTP(httptest.NewRecorder(), req)
	if !eng.hadDeadline || eng.deadline.Sub(before) > 6*time.Second {
		t.Fatalf("header deadline = %v", eng.deadline.Sub(before))
	}
}

func TestRequestDeadline(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/analyze-image?timeoutSec=7", nil)
	if got := requestDeadline(r, time.Minute); got != 7*time.Second {
		t.Fatalf("query: %v", got)
	}
	r.Header.Set("X-Request-Timeout", "3")
	if got := requestDeadline(r, time.Minute); got != 3*time.Second {
		t.Fatalf("header: %v", got)
	}
	r = httptest.NewRequest(http.MethodPost, "/analyze-image?timeoutSec=-1", nil)
	if got := requestDeadline(r, 0); got != 0 {
		t.Fatalf("invalid: %v", got)
	}
}
