// Package capability defines the external effect contracts the step
// executor dispatches to — LLM completion, embedding, vector search — plus
// a small name -> handle registry. Concrete HTTP
// clients for any given provider are explicitly outside this module; only
// the contract and a closed transform-function set live here.
//
// Grounded on rag/vector_store.go's VectorStore interface shape (context-
// first methods, a plain Go interface with no generated client code) and on
// the dispatch-by-string-name pattern used by this codebase's former
// provider registry.
package capability

import "context"

// LLMRequest is the request shape the LLM provider capability accepts.
type LLMRequest struct {
	Model       string
	Prompt      string
	System      string
	Temperature *float64
	MaxTokens   *int
}

// LLMResponse is the response shape an LLM provider capability returns.
type LLMResponse struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
	RawMetadata  map[string]any
}

// LLMProvider is the contract a concrete LLM client must satisfy to be
// registered under a provider name. Implementations classify failures using
// the orcherr taxonomy before returning them (transient_network,
// rate_limited, upstream_5xx for retryable failures; auth, invalid_request,
// not_found, schema_violation for permanent ones; capability_transient and
// capability_permanent when nothing more specific applies) — the
// dispatcher trusts the error it gets back.
type LLMProvider interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

// EmbedRequest is the request shape the embedding provider capability
// accepts. Input holds one or more strings to embed in one call — a
// single-element slice is the one-at-a-time fallback every provider must
// support.
type EmbedRequest struct {
	Model string
	Input []string
}

// EmbedResponse is the response shape an embedding provider capability
// returns, one vector per Input element in the same order.
type EmbedResponse struct {
	Vectors    [][]float64
	Model      string
	TokenUsage int
}

// EmbeddingProvider is the contract a concrete embedding client must
// satisfy.
type EmbeddingProvider interface {
	Embed(ctx context.Context, req EmbedRequest) (EmbedResponse, error)
}

// VectorSearchRequest is the request shape the vector store capability
// accepts. The core only ever issues search — upsert/delete belong to the
// broader system that manages the index, not this engine.
type VectorSearchRequest struct {
	Index           string
	QueryVector     []float64
	TopK            int
	Namespace       string
	Filter          map[string]any
	IncludeMetadata bool
	IncludeVectors  bool
}

// VectorHit is one ranked search result.
type VectorHit struct {
	ID       string
	Score    float64
	Metadata map[string]any
	Vector   []float64
}

// VectorSearchResponse is the ordered (score descending, ties broken by id)
// result set a vector store capability returns.
type VectorSearchResponse struct {
	Hits []VectorHit
}

// VectorStore is the contract a concrete vector database client must
// satisfy for the search path the core consumes.
type VectorStore interface {
	Search(ctx context.Context, req VectorSearchRequest) (VectorSearchResponse, error)
}

// TransformFunc is a pure, deterministic transform over resolved input
// values. It must not perform I/O or depend on anything outside its
// arguments — see transform.go for the closed built-in set.
type TransformFunc func(values []any) (any, error)

// Registry is the runner-held mapping of capability name -> handle for each
// of the three external capability kinds, plus the transform function set.
// A Registry is safe to share across a workflow execution: registration
// happens once at wiring time, before any step runs.
type Registry struct {
	llm        map[string]LLMProvider
	embed      map[string]EmbeddingProvider
	vector     map[string]VectorStore
	transforms map[string]TransformFunc
}

// NewRegistry creates an empty registry pre-populated with the built-in
// transform functions (merge, filter, concat).
func NewRegistry() *Registry {
	r := &Registry{
		llm:        make(map[string]LLMProvider),
		embed:      make(map[string]EmbeddingProvider),
		vector:     make(map[string]VectorStore),
		transforms: make(map[string]TransformFunc),
	}
	for name, fn := range builtinTransforms {
		r.transforms[name] = fn
	}
	return r
}

// RegisterLLM registers an LLM provider under name (matched against a
// step's config.provider).
func (r *Registry) RegisterLLM(name string, p LLMProvider) { r.llm[name] = p }

// RegisterEmbedding registers an embedding provider under name.
func (r *Registry) RegisterEmbedding(name string, p EmbeddingProvider) { r.embed[name] = p }

// RegisterVectorStore registers a vector store under name (matched against
// a step's config.database).
func (r *Registry) RegisterVectorStore(name string, v VectorStore) { r.vector[name] = v }

// RegisterTransform overrides or extends the transform function set. Used
// primarily by tests; production wiring should rely on the built-in set,
// since an unrecognized transform name is a workflow validation error.
func (r *Registry) RegisterTransform(name string, fn TransformFunc) { r.transforms[name] = fn }

func (r *Registry) LLM(name string) (LLMProvider, bool) { p, ok := r.llm[name]; return p, ok }

func (r *Registry) Embedding(name string) (EmbeddingProvider, bool) { p, ok := r.embed[name]; return p, ok }

func (r *Registry) VectorStore(name string) (VectorStore, bool) { v, ok := r.vector[name]; return v, ok }

func (r *Registry) Transform(name string) (TransformFunc, bool) { fn, ok := r.transforms[name]; return fn, ok }
