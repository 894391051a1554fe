package embedding

import (
	"context"
	"sync/atomic"

	"github.com/m-mizutani/goerr/v2"

	"github.com/lexlapax/questweaver/pkg/reasoning"
)

// Engine embeds single texts through a reasoning.Engine.
type Engine struct {
	engine reasoning.Engine
	model  string
	dims   atomic.Int64
}

// FromEngine adapts engine to memory.Embedder. model is used for logging
// and as the cache namespace.
func FromEngine(engine reasoning.Engine, model string) *Engine {
	return &Engine{engine: engine, model: model}
}

// Model returns the model name the embedder was built for.
func (e *Engine) Model() string {
	return e.model
}

// Embed implements memory.Embedder. It rejects zero vectors and any
// dimensionality change after the first successful call.
func (e *Engine) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.engine.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, goerr.Wrap(err, "embedding request failed", goerr.V("model", e.model))
	}
	if len(vectors) != 1 {
		return nil, goerr.New("unexpected embedding count",
			goerr.V("model", e.model), goerr.V("count", len(vectors)))
	}

	vec := vectors[0]
	if isZero(vec) {
		return nil, goerr.New("embedding is a zero vector",
			goerr.V("model", e.model), goerr.V("dimensions", len(vec)))
	}

	n := int64(len(vec))
	if !e.dims.CompareAndSwap(0, n) {
		if want := e.dims.Load(); want != n {
			return nil, goerr.New("embedding dimensionality changed",
				goerr.V("model", e.model), goerr.V("want", want), goerr.V("got", n))
		}
	}

	return vec, nil
}

func isZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
