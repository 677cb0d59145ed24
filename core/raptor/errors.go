package raptor

import "errors"

// Errors returned by the cluster summarizer. Returned errors wrap one of them.
var (
	ErrValidation = errors.New("raptor: invalid input")
	ErrLLM        = errors.New("raptor: summarization failed")
	ErrEmbedding  = errors.New("raptor: embedding failed")
	ErrClustering = errors.New("raptor: clustering failed")
	ErrResource   = errors.New("raptor: resource limit exceeded")
	ErrCanceled   = errors.New("raptor: canceled")
)
