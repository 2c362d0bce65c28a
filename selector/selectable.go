// File: selector/selectable.go
// Author: momentics <momentics@gmail.com>
package selector

// Runnable is a unit of work produced while processing a selected key. It
// is what the ExecutionStrategy actually "eats" - stands in for Jetty's
// Runnable attachment-of-a-task.
type Runnable func()

// Selectable is implemented by whatever is attached to a SelectionKey -
// typically an EndPoint. OnSelected is invoked once per readiness
// notification and must not block; it should perform the minimal
// non-blocking I/O needed (e.g. a single read/accept/connect-finish call)
// and return a Runnable for any follow-up application work, or a nil
// Runnable if nothing further is needed this round.
type Selectable interface {
	// OnSelected is called from the selector loop when the bound fd is
	// ready per the key's current interest ops.
	OnSelected() (Runnable, error)

	// UpdateKey lets the Selectable recompute and apply its own interest
	// ops (via the SelectionKey passed at registration) before the next
	// poller Wait. Called once per select cycle, only for valid keys whose
	// OnSelected ran in that cycle.
	UpdateKey()
}
