package embedding

import "errors"

// Errors returned by the engines. Callers classify retrieval failures with
// errors.Is: ErrBackendUnavailable is transient, the others mean the backend
// answered with something the retriever cannot index.
var (
	ErrUnknownProvider    = errors.New("unsupported embedding provider")
	ErrMissingAPIKey      = errors.New("embedding API key is required")
	ErrBackendUnavailable = errors.New("embedding backend unavailable")
	ErrEmptyEmbedding     = errors.New("embedding backend returned an empty vector")
	ErrBatchMismatch      = errors.New("embedding batch does not match its input")
)
