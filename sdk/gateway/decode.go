package gateway

import (
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const acceptEncoding = "br, zstd, gzip"

// decodingTransport negotiates compressed responses and decodes them transparently.
// Requests that set their own Accept-Encoding get the raw body back.
type decodingTransport struct {
	next http.RoundTripper
}

func (d *decodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") != "" {
		return d.next.RoundTrip(req)
	}
	out := req.Clone(req.Context())
	out.Header.Set("Accept-Encoding", acceptEncoding)

	resp, err := d.next.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	var decoded io.ReadCloser
	switch encoding {
	case "br":
		decoded = &decodedBody{Reader: brotli.NewReader(resp.Body), raw: resp.Body}
	case "gzip":
		zr, errGzip := gzip.NewReader(resp.Body)
		if errGzip != nil {
			_ = resp.Body.Close()
			return nil, errGzip
		}
		decoded = &decodedBody{Reader: zr, raw: resp.Body, closeReader: zr.Close}
	case "zstd":
		zr, errZstd := zstd.NewReader(resp.Body)
		if errZstd != nil {
			_ = resp.Body.Close()
			return nil, errZstd
		}
		decoded = &decodedBody{Reader: zr, raw: resp.Body, closeReader: func() error { zr.Close(); return nil }}
	default:
		return resp, nil
	}
	resp.Body = decoded
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return resp, nil
}

type decodedBody struct {
	io.Reader
	raw         io.Closer
	closeReader func() error
}

func (b *decodedBody) Close() error {
	if b.closeReader != nil {
		_ = b.closeReader()
	}
	return b.raw.Close()
}
