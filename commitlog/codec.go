package commitlog

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec compresses snapshot payloads before they hit the log.
//
// Codec selection is a breaking-change boundary: the codec ID is stored
// in the log header and a log written under one codec never decodes
// under another.
type Codec interface {
	ID() byte
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

const (
	codecIDNone byte = 0
	codecIDZstd byte = 1
	codecIDLZ4  byte = 2
)

// Default is the codec used when none is configured.
var Default Codec = Zstd{}

// ByID returns a built-in codec by its stable on-disk identifier.
func ByID(id byte) (Codec, bool) {
	switch id {
	case codecIDNone:
		return None{}, true
	case codecIDZstd:
		return Zstd{}, true
	case codecIDLZ4:
		return LZ4{}, true
	default:
		return nil, false
	}
}

// None stores payloads uncompressed.
type None struct{}

func (None) ID() byte     { return codecIDNone }
func (None) Name() string { return "none" }

func (None) Compress(data []byte) ([]byte, error)   { return data, nil }
func (None) Decompress(data []byte) ([]byte, error) { return data, nil }

// Zstd compresses payloads with zstd at the default level.
type Zstd struct{}

func (Zstd) ID() byte     { return codecIDZstd }
func (Zstd) Name() string { return "zstd" }

func (Zstd) Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	out := enc.EncodeAll(data, nil)
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (Zstd) Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}

// LZ4 compresses payloads with the lz4 frame format.
type LZ4 struct{}

func (LZ4) ID() byte     { return codecIDLZ4 }
func (LZ4) Name() string { return "lz4" }

func (LZ4) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (LZ4) Decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return out, nil
}
