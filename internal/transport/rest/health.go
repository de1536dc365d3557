package rest

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/abgdnv/storefront/pkg/web"
	"golang.org/x/sync/errgroup"
)

const readyTimeout = 2 * time.Second

// Check is a named readiness dependency.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Live reports that the process is up.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Ready probes every dependency concurrently and answers 503 if any of them fails.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	var mu sync.Mutex
	results := make(map[string]string, len(h.checks))
	g, gCtx := errgroup.WithContext(ctx)
	for _, c := range h.checks {
		g.Go(func() error {
			err := c.Probe(gCtx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[c.Name] = err.Error()
				return err
			}
			results[c.Name] = "ok"
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		mLogger.WarnContext(r.Context(), "Readiness check failed", "error", err)
		web.RespondJSON(w, mLogger, http.StatusServiceUnavailable, results)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, results)
}
