package static

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"acceptor/internal/contenttype"
)

func setupRoot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		"index.html":      "<h1>hello</h1>",
		"css/styles.css":  "body{}",
		"js/app.js":       "console.log(1)",
		"data.xyz":        "?",
		"sub.html/a.html": "nested",
	}
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir failed: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	return dir
}

// roundTrip は net.Pipe 越しに1リクエストを送り、レスポンスを返す
func roundTrip(t *testing.T, h *Handler, method, raw string) (*http.Response, string) {
	t.Helper()
	server, client := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Serve(server)
		server.Close()
	}()
	go func() {
		_, _ = client.Write([]byte(raw))
	}()

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(client), &http.Request{Method: method})
	if err != nil {
		t.Fatalf("read response failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body failed: %v", err)
	}
	resp.Body.Close()
	<-done
	return resp, string(body)
}

func get(t *testing.T, h *Handler, target string) (*http.Response, string) {
	t.Helper()
	return roundTrip(t, h, "GET", "GET "+target+" HTTP/1.1\r\nHost: localhost\r\n\r\n")
}

func TestServeIndex(t *testing.T) {
	h := New(setupRoot(t))

	resp, body := get(t, h, "/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body != "<h1>hello</h1>" {
		t.Errorf("unexpected body %q", body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != contenttype.HTML.MIMEType {
		t.Errorf("expected %s, got %s", contenttype.HTML.MIMEType, ct)
	}
	if !resp.Close {
		t.Error("expected Connection: close")
	}
}

func TestServeContentTypes(t *testing.T) {
	h := New(setupRoot(t))

	tests := []struct {
		target string
		want   string
	}{
		{"/css/styles.css", "text/css;charset=utf-8"},
		{"/js/app.js", "application/javascript"},
		{"/index.html", "text/html;charset=utf-8"},
	}
	for _, tt := range tests {
		resp, _ := get(t, h, tt.target)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", tt.target, resp.StatusCode)
			continue
		}
		if ct := resp.Header.Get("Content-Type"); ct != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.target, tt.want, ct)
		}
	}
}

func TestServeErrors(t *testing.T) {
	h := New(setupRoot(t))

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"missing file", "/missing.html", http.StatusNotFound},
		{"directory", "/sub.html", http.StatusNotFound},
		{"unsupported extension", "/data.xyz", http.StatusUnsupportedMediaType},
		{"path escape", "/../secret.html", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := get(t, h, tt.target)
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

func TestServeMethodNotAllowed(t *testing.T) {
	h := New(setupRoot(t))

	resp, _ := roundTrip(t, h, "POST", "POST /index.html HTTP/1.1\r\nHost: localhost\r\nContent-Length: 0\r\n\r\n")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}

func TestServeHead(t *testing.T) {
	h := New(setupRoot(t))

	resp, body := roundTrip(t, h, "HEAD", "HEAD /index.html HTTP/1.1\r\nHost: localhost\r\n\r\n")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body != "" {
		t.Errorf("expected empty body for HEAD, got %q", body)
	}
}

func TestServeMalformedRequest(t *testing.T) {
	h := New(setupRoot(t))

	resp, _ := roundTrip(t, h, "GET", "garbage\r\n\r\n")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCustomResolver(t *testing.T) {
	xyz := contenttype.Type{MIMEType: "application/x-xyz", Extension: ".xyz"}
	h := New(setupRoot(t), WithResolver(contenttype.NewResolver(xyz)))

	resp, body := get(t, h, "/data.xyz")
	if resp.StatusCode != http.StatusOK || body != "?" {
		t.Errorf("expected custom type to be served, got %d %q", resp.StatusCode, body)
	}

	resp, _ = get(t, h, "/index.html")
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("expected 415 for html with custom table, got %d", resp.StatusCode)
	}
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"/", "index.html", true},
		{"/css/styles.css", "css/styles.css", true},
		{"/a//b.js", "a/b.js", true},
		{"/../etc/passwd", "", false},
		{"/css/../../x.html", "", false},
		{"relative.html", "", false},
	}
	for _, tt := range tests {
		got, ok := cleanPath(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("cleanPath(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
