// internal/inference/compression.go
package inference

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// acceptEncoding is advertised on every request. Setting it ourselves turns off
// the transport's implicit gzip handling, so decodeBody covers both.
const acceptEncoding = "br, gzip"

var (
	brotliReaderPool = sync.Pool{
		New: func() interface{} { return brotli.NewReader(nil) },
	}
	gzipReaderPool = sync.Pool{
		New: func() interface{} { return new(gzip.Reader) },
	}
	emptyReader = strings.NewReader("")
)

// pooledBody returns its decoder to the pool on Close and closes the wire body.
type pooledBody struct {
	io.Reader
	wire    io.Closer
	release func()
}

func (b *pooledBody) Close() error {
	if b.release != nil {
		b.release()
		b.release = nil
	}
	return b.wire.Close()
}

// decodeBody wraps resp.Body according to Content-Encoding. Unknown encodings
// are an error; the caller still owns and must close the original body.
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))); enc {
	case "", "identity":
		return resp.Body, nil
	case "br":
		br := brotliReaderPool.Get().(*brotli.Reader)
		if err := br.Reset(resp.Body); err != nil {
			brotliReaderPool.Put(br)
			return nil, fmt.Errorf("brotli initialization error: %w", err)
		}
		return &pooledBody{Reader: br, wire: resp.Body, release: func() {
			_ = br.Reset(emptyReader)
			brotliReaderPool.Put(br)
		}}, nil
	case "gzip":
		zr := gzipReaderPool.Get().(*gzip.Reader)
		if err := zr.Reset(resp.Body); err != nil {
			gzipReaderPool.Put(zr)
			return nil, fmt.Errorf("gzip initialization error: %w", err)
		}
		return &pooledBody{Reader: zr, wire: resp.Body, release: func() {
			_ = zr.Reset(emptyReader)
			gzipReaderPool.Put(zr)
		}}, nil
	default:
		return nil, errors.New("unsupported Content-Encoding: " + enc)
	}
}
