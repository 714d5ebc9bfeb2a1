package executor

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"
)

// acceptedEncodings is advertised on every completion request.
const acceptedEncodings = "gzip, br, zstd"

// decodedBody wraps the response body according to its Content-Encoding. Closing the
// result closes the decoder and the underlying body.
func decodedBody(resp *http.Response) (io.ReadCloser, error) {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "", "identity":
		return resp.Body, nil
	case "gzip":
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			// An empty gzip body has no header to read.
			if errors.Is(err, io.EOF) {
				return resp.Body, nil
			}
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return &stackedReadCloser{Reader: reader, closers: []io.Closer{reader, resp.Body}}, nil
	case "br":
		reader := brotli.NewReader(resp.Body)
		return &stackedReadCloser{Reader: reader, closers: []io.Closer{resp.Body}}, nil
	case "zstd":
		decoder, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		rc := decoder.IOReadCloser()
		return &stackedReadCloser{Reader: rc, closers: []io.Closer{rc, resp.Body}}, nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

type stackedReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReadCloser) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			if first == nil {
				first = err
			} else {
				log.Debugf("codex executor: close decoder: %v", err)
			}
		}
	}
	return first
}
