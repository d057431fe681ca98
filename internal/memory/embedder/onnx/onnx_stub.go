//go:build !onnx

// Package onnx embeds text locally with ONNX Runtime. Without the onnx build
// tag it compiles to a stub so binaries link without the runtime library.
package onnx

import (
	"context"
	"fmt"
)

// Embedder is unavailable without the onnx build tag.
type Embedder struct{}

// New fails: rebuild with -tags onnx to enable local embedding.
func New(Config) (*Embedder, error) {
	return nil, fmt.Errorf("onnx embedder not compiled in (rebuild with -tags onnx)")
}

func (e *Embedder) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("onnx embedder not compiled in")
}

func (e *Embedder) Dimensions() int { return 0 }

func (e *Embedder) Close() error { return nil }
