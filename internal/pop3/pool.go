package pop3

import (
	"log/slog"
	"sync"

	"github.com/atolye/mailwire/pkg/mailerr"
	"github.com/atolye/mailwire/pkg/models"
)

// HandlerPool keeps a fixed set of handlers for one mailbox so concurrent
// borrowers skip the connect/login handshake. Handlers are connected and
// authenticated lazily on first acquire, and Reset runs on every release
// so a borrower never inherits another borrower's pending deletion marks.
type HandlerPool struct {
	logger *slog.Logger

	mu   sync.Mutex
	free []*Handler
	all  []*Handler
}

// NewHandlerPool builds size handlers for the endpoint without connecting
// any of them.
func NewHandlerPool(ep models.Endpoint, size int, logger *slog.Logger) *HandlerPool {
	if size <= 0 {
		size = 3
	}
	p := &HandlerPool{logger: logger.With("component", "pop3_pool", "server", ep.Addr())}
	for i := 0; i < size; i++ {
		h := NewHandler(ep, logger)
		p.all = append(p.all, h)
		p.free = append(p.free, h)
	}
	return p
}

// Acquire hands out an idle handler, connecting and authenticating it
// first if needed. A handler that sat idle gets a NOOP round trip and
// rebuilt when the server dropped it. When every handler is checked out
// it returns mailerr.ErrPoolExhausted.
func (p *HandlerPool) Acquire() (*Handler, error) {
	p.mu.Lock()
	if len(p.free) == 0 {
		p.mu.Unlock()
		return nil, mailerr.ErrPoolExhausted
	}
	h := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.mu.Unlock()

	if h.Connected() {
		if err := h.Noop(); err != nil {
			p.logger.Warn("idle session is dead, rebuilding", "error", err)
			h.Quit()
		}
	}
	if !h.Connected() {
		if err := h.Connect(); err != nil {
			p.putBack(h)
			return nil, err
		}
		if err := h.Authenticate("", ""); err != nil {
			h.Quit()
			p.putBack(h)
			return nil, err
		}
	}
	return h, nil
}

// Release resets the handler's deletion marks and returns it to the idle
// set. A handler whose reset fails is disconnected; the next acquire will
// rebuild it.
func (p *HandlerPool) Release(h *Handler) {
	if h == nil {
		return
	}
	if h.Connected() {
		if err := h.Reset(); err != nil {
			p.logger.Warn("reset on release failed, dropping connection", "error", err)
			h.Quit()
		}
	}
	p.putBack(h)
}

// CloseAll quits every handler's session.
func (p *HandlerPool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, h := range p.all {
		if err := h.Quit(); err != nil {
			p.logger.Debug("quit failed", "error", err)
		}
	}
	p.free = append(p.free[:0], p.all...)
	p.logger.Info("all pop3 sessions closed", "handlers", len(p.all))
}

func (p *HandlerPool) putBack(h *Handler) {
	p.mu.Lock()
	p.free = append(p.free, h)
	p.mu.Unlock()
}
