package speech

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"sync"
)

// maxDecompressedSize 上游单帧解压后的上限，超出视为异常帧
const maxDecompressedSize = 16 << 20

var (
	ErrUnsupportedCompression = errors.New("unsupported compression method")
	ErrPayloadTooLarge        = errors.New("decompressed payload exceeds limit")
)

type payloadCodec struct {
	encode func([]byte) ([]byte, error)
	decode func([]byte) ([]byte, error)
}

func identity(data []byte) ([]byte, error) { return data, nil }

var codecs = map[CompressionMethod]payloadCodec{
	NoCompression:   {encode: identity, decode: identity},
	GzipCompression: {encode: gzipEncode, decode: gzipDecode},
}

func codecFor(method CompressionMethod) (payloadCodec, error) {
	c, ok := codecs[method]
	if !ok {
		return payloadCodec{}, fmt.Errorf("%w: %d", ErrUnsupportedCompression, method)
	}
	return c, nil
}

// CompressPayload 按帧头声明的方法压缩
func CompressPayload(data []byte, method CompressionMethod) ([]byte, error) {
	c, err := codecFor(method)
	if err != nil {
		return nil, err
	}
	return c.encode(data)
}

// DecompressPayload 按帧头声明的方法解压；空 payload 原样返回
func DecompressPayload(data []byte, method CompressionMethod) ([]byte, error) {
	c, err := codecFor(method)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return c.decode(data)
}

// 音频约每 100ms 一包，writer 与 reader 都走池
var (
	gzipWriters = sync.Pool{New: func() any { return gzip.NewWriter(io.Discard) }}
	gzipReaders sync.Pool
)

func gzipEncode(data []byte) ([]byte, error) {
	zw := gzipWriters.Get().(*gzip.Writer)
	defer gzipWriters.Put(zw)

	out := bytes.NewBuffer(make([]byte, 0, len(data)/2+32))
	zw.Reset(out)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("gzip encode: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip encode: %w", err)
	}
	return out.Bytes(), nil
}

func gzipDecode(data []byte) ([]byte, error) {
	src := bytes.NewReader(data)
	zr, _ := gzipReaders.Get().(*gzip.Reader)
	if zr == nil {
		var err error
		if zr, err = gzip.NewReader(src); err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
	} else if err := zr.Reset(src); err != nil {
		return nil, fmt.Errorf("gzip decode: %w", err)
	}
	defer gzipReaders.Put(zr)

	out, err := io.ReadAll(io.LimitReader(zr, maxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("gzip decode: %w", err)
	}
	if len(out) > maxDecompressedSize {
		return nil, ErrPayloadTooLarge
	}
	return out, nil
}
