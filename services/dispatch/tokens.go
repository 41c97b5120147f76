package dispatch

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator approximates token counts for text the provider did not account
// for itself: streamed replies that ended without an eval count, embeddings
// input, and fallback completions.
//
// The cl100k_base encoding is loaded lazily on first use. When it cannot be
// loaded (offline hosts with no cached encoding), Estimate degrades to a
// bytes/4 heuristic, which tracks real counts within a few percent for
// English prose.
type Estimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewEstimator creates an estimator. Loading the encoding is deferred until
// the first Estimate call.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// Estimate returns the approximate token count of text.
func (e *Estimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("Token encoding unavailable, using byte heuristic", "error", err)
			return
		}
		e.enc = enc
	})
	if e.enc == nil {
		return (len(text) + 3) / 4
	}
	return len(e.enc.Encode(text, nil, nil))
}
