// Copyright © 2024 Zyncio

package replicate

import (
	"compress/gzip"
	"io"
)

// countingReader counts the bytes that actually cross the hop.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// gzipStream compresses r on the fly. Closing the returned reader stops
// the compressor even when the consumer gave up early.
func gzipStream(r io.Reader) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		gw := gzip.NewWriter(pw)
		_, err := io.Copy(gw, r)
		if cerr := gw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()
	return pr
}

// gunzipReader decompresses lazily so that building the receive side never
// blocks on stream headers that have not been produced yet.
type gunzipReader struct {
	src io.Reader
	zr  *gzip.Reader
}

func newGunzipReader(src io.Reader) io.Reader {
	return &gunzipReader{src: src}
}

func (g *gunzipReader) Read(p []byte) (int, error) {
	if g.zr == nil {
		zr, err := gzip.NewReader(g.src)
		if err != nil {
			return 0, err
		}
		g.zr = zr
	}
	return g.zr.Read(p)
}
