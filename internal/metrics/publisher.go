package metrics

import (
	"bytes"
	"net/http"
	"sync"

	"github.com/prometheus/common/expfmt"
)

// Publisher serves the most recent run's Summary on GET. It is safe for
// concurrent use; Set may be called once per run.
type Publisher struct {
	mu   sync.RWMutex
	last *Summary
}

// NewPublisher returns a Publisher with no run recorded yet.
func NewPublisher() *Publisher { return &Publisher{} }

// Set replaces the published summary.
func (p *Publisher) Set(s Summary) {
	p.mu.Lock()
	p.last = &s
	p.mu.Unlock()
}

func (p *Publisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	p.mu.RLock()
	last := p.last
	p.mu.RUnlock()

	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	if last == nil {
		// No run finished yet; an empty exposition is valid.
		w.WriteHeader(http.StatusOK)
		return
	}

	var buf bytes.Buffer
	if err := WriteText(&buf, *last); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes()) //nolint:errcheck
}
