// Package static serves files from a directory over a raw connection.
//
// Handler reads a single HTTP/1.x request from the connection, answers it
// and returns; the connector closes the connection afterwards. It is the
// request-processing side of the acceptor and deliberately small: no
// keep-alive, no ranges, no directory listings.
package static

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"acceptor/internal/contenttype"
	"acceptor/internal/logger"
)

// DefaultReadTimeout はリクエスト行とヘッダを読み切るまでの制限時間
const DefaultReadTimeout = 5 * time.Second

// Handler はディレクトリ配下のファイルを返す
type Handler struct {
	root        string
	resolver    *contenttype.Resolver
	readTimeout time.Duration
}

// Option は Handler のオプション
type Option func(*Handler)

// WithResolver は Content-Type の対応表を差し替える
func WithResolver(r *contenttype.Resolver) Option {
	return func(h *Handler) {
		h.resolver = r
	}
}

// WithReadTimeout はリクエスト読み込みの制限時間を設定する
func WithReadTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.readTimeout = d
	}
}

// New は root を公開する Handler を作成する
func New(root string, opts ...Option) *Handler {
	h := &Handler{
		root:        root,
		resolver:    contenttype.Default,
		readTimeout: DefaultReadTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Root は公開ディレクトリを返す
func (h *Handler) Root() string {
	return h.root
}

// Serve は1リクエストを処理する
func (h *Handler) Serve(conn net.Conn) {
	if h.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}

	req, err := http.ReadRequest(bufio.NewReader(conn))
	if err != nil {
		if !errors.Is(err, io.EOF) {
			logger.Debug("static", "Malformed request from %s: %v", conn.RemoteAddr(), err)
			h.write(conn, nil, http.StatusBadRequest, "", nil)
		}
		return
	}

	status, ctype, body := h.lookup(req)
	logger.Debug("static", "%s %s %d", req.Method, req.URL.Path, status)
	h.write(conn, req, status, ctype, body)
}

// lookup はリクエストに対するステータス・Content-Type・本文を決める
func (h *Handler) lookup(req *http.Request) (int, string, []byte) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return http.StatusMethodNotAllowed, "", nil
	}

	name, ok := cleanPath(req.URL.Path)
	if !ok {
		return http.StatusBadRequest, "", nil
	}

	ctype, err := h.resolver.FindByExtension(name)
	if err != nil {
		return http.StatusUnsupportedMediaType, "", nil
	}

	body, err := h.readFile(name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("static", "Failed to read %s: %v", name, err)
		}
		return http.StatusNotFound, "", nil
	}
	return http.StatusOK, ctype.MIMEType, body
}

// readFile は root の外に出られない形でファイルを読む
func (h *Handler) readFile(name string) ([]byte, error) {
	root, err := os.OpenRoot(h.root)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	f, err := root.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fs.ErrNotExist
	}
	return io.ReadAll(f)
}

// cleanPath は URL パスを root からの相対パスにする。"/" は index.html
func cleanPath(p string) (string, bool) {
	if !strings.HasPrefix(p, "/") {
		return "", false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", false
		}
	}

	cleaned := path.Clean(p)
	if cleaned == "/" {
		cleaned = "/index.html"
	}
	return strings.TrimPrefix(cleaned, "/"), true
}

// write はレスポンスを書き込む
func (h *Handler) write(conn net.Conn, req *http.Request, status int, ctype string, body []byte) {
	if body == nil {
		body = []byte(http.StatusText(status) + "\n")
		ctype = "text/plain;charset=utf-8"
	}

	resp := &http.Response{
		StatusCode:    status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Close:         true,
		Request:       req,
	}
	resp.Header.Set("Content-Type", ctype)

	if err := resp.Write(conn); err != nil {
		logger.Debug("static", "Failed to write response to %s: %v", conn.RemoteAddr(), err)
	}
}
