package index

import (
	"context"
	"errors"
	"strings"
	"sync"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// letterEmbeddings maps text to letter-frequency vectors, so equal texts
// get identical vectors and unrelated texts point elsewhere.
type letterEmbeddings struct {
	mu      sync.Mutex
	calls   int
	inputs  []string
	failOn  string
	lastReq openai.EmbeddingNewParams
}

func letterVector(text string) []float64 {
	vec := make([]float64, 27)
	vec[26] = 0.01
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			vec[r-'a']++
		}
	}
	return vec
}

func (f *letterEmbeddings) New(_ context.Context, params openai.EmbeddingNewParams, _ ...option.RequestOption) (*openai.CreateEmbeddingResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastReq = params
	texts := params.Input.OfArrayOfStrings
	f.inputs = append(f.inputs, texts...)

	resp := &openai.CreateEmbeddingResponse{}
	for i, text := range texts {
		if f.failOn != "" && strings.Contains(text, f.failOn) {
			return nil, errors.New("embedding backend exploded")
		}
		resp.Data = append(resp.Data, openai.Embedding{Embedding: letterVector(text), Index: int64(i)})
	}
	return resp, nil
}

func testEmbedder(f *letterEmbeddings) *Embedder {
	return NewEmbedder("http://127.0.0.1:1/v1", "", "test-model", 0, WithEmbeddingClient(f))
}
