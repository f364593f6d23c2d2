// Package engine runs a simulation kernel on a background goroutine and
// arbitrates access to it.
//
// A [Worker] owns the kernel. Only its loop goroutine ever calls into the
// kernel; every other goroutine talks to the worker:
//
//	w := engine.New(kernel, settings)
//	if err := w.Start(ctx); err != nil {
//		return err
//	}
//	defer w.Shutdown()
//	w.Run()
//
// # Access windows
//
// Snapshots, edits, single steps and pauses are access requests. They are
// queued and served by the loop between two timesteps, one at a time, in
// arrival order. A request that the loop has picked up always runs to
// completion, even if the caller's context is cancelled meanwhile, so an
// edit is never half applied.
//
// Parameter updates do not wait: [Worker.SetParameters] parks the update
// in a single slot, a newer update replaces an older unapplied one, and
// the loop applies it before the next timestep.
//
// # Throttling and statistics
//
// [Worker.SetTPSLimit] caps the timesteps per second. Access requests are
// served while the loop waits for the next slot. The achieved rate is
// measured once per second. Counters are refreshed every monitor interval
// and after each edit; [Worker.Statistics] reads them without waiting for
// the loop.
//
// # Failure
//
// Kernel failures and bonds to unknown cells are fatal. The worker logs a
// [FatalError], closes the kernel and terminates; later calls return
// [ErrShutdown]. Nothing is retried.
package engine
