package engine

import (
	"context"
	"errors"
	"sync/atomic"
)

const (
	requestPending int32 = iota
	requestClaimed
	requestAbandoned
)

// request is one access window. fn runs on the loop goroutine between two
// timesteps and has the kernel to itself.
type request struct {
	fn    func() error
	done  chan error
	state atomic.Int32
}

func newRequest(fn func() error) *request {
	return &request{fn: fn, done: make(chan error, 1)}
}

// claim is called by the loop. A claimed request always runs to completion.
func (r *request) claim() bool {
	return r.state.CompareAndSwap(requestPending, requestClaimed)
}

// abandon is called by a caller whose context ended. It fails once the loop
// has claimed the request.
func (r *request) abandon() bool {
	return r.state.CompareAndSwap(requestPending, requestAbandoned)
}

// submit queues fn and waits for the loop to run it.
func (w *Worker) submit(ctx context.Context, fn func() error) error {
	if err := w.checkAlive(); err != nil {
		return err
	}
	req := newRequest(fn)

	select {
	case w.requests <- req:
	case <-w.quit:
		return ErrShutdown
	case <-w.done:
		return w.shutdownErr()
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-w.done:
		select {
		case err := <-req.done:
			return err
		default:
			return w.shutdownErr()
		}
	case <-ctx.Done():
		if req.abandon() {
			return ctx.Err()
		}
		return <-req.done
	}
}

// serve runs a claimed request and reports a fatal error it produced.
func (w *Worker) serve(req *request) error {
	if !req.claim() {
		return nil
	}
	err := req.fn()
	req.done <- err

	var fatal *FatalError
	if errors.As(err, &fatal) {
		return fatal
	}
	return nil
}

// serveQueued serves the requests queued so far. Requests arriving while
// it runs wait for the next boundary.
func (w *Worker) serveQueued() error {
	for n := len(w.requests); n > 0; n-- {
		if err := w.serve(<-w.requests); err != nil {
			return err
		}
	}
	return nil
}
