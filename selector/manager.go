// File: selector/manager.go
// Author: momentics <momentics@gmail.com>
//
// Manager is the callback surface a ManagedSelector invokes on its owner
// for everything that isn't pure fd multiplexing: endpoint/connection
// construction, lifecycle notifications, and the handful of policy knobs
// (connect timeout, scheduler access) that the facade layer supplies.
// Mirrors the set of protected hooks Jetty's ManagedSelector calls on its
// enclosing SelectorManager (newEndPoint, newConnection, connectionOpened,
// endPointOpened, onAcceptFailed, ...).
package selector

import (
	"io"
	"time"

	"github.com/vireon-io/netselect/api"
)

// EndPoint represents one accepted or connected socket's I/O surface. It
// embeds Selectable because an EndPoint is exactly what gets attached to
// its SelectionKey - the same object the loop dispatches readiness
// notifications to.
type EndPoint interface {
	io.Closer
	Selectable
	SetConnection(Connection)
	Connection() Connection
	OnOpen()
}

// Connection represents the application protocol/session layered over an
// EndPoint.
type Connection interface {
	io.Closer
}

// Manager supplies the policy and construction hooks a ManagedSelector
// needs but does not implement itself.
type Manager interface {
	// Execute hands a task to the shared executor rather than running it
	// on the selector loop goroutine.
	Execute(task func()) error

	// Scheduler returns the shared timer scheduler, used to arm
	// connect-timeout tasks.
	Scheduler() api.Scheduler

	// ConnectTimeout reports the manager's connect timeout. ManagedSelector
	// does not read it: a Connect's timeout is the one passed to
	// NewConnectUpdate (facade.Runtime.Connect passes Config.ConnectTimeout).
	ConnectTimeout() time.Duration

	// ForceSelectNow reports whether a zero-result poller Wait should be
	// followed by an immediate non-blocking poll before looping back to a
	// blocking one. Exists for platforms whose readiness notification can
	// be missed across a register/modify race (Windows-family select
	// implementations); Linux/BSD managers can safely return false.
	ForceSelectNow() bool

	// NewEndPoint wraps fd (already accepted or connected) with an
	// EndPoint bound to key.
	NewEndPoint(fd int, sel *ManagedSelector, key *SelectionKey) (EndPoint, error)

	// NewConnection builds the application-level Connection for endpoint.
	NewConnection(fd int, endpoint EndPoint, attachment any) (Connection, error)

	// Accepted is invoked for a freshly accepted fd before an EndPoint
	// exists for it, giving the manager a chance to reject it outright.
	Accepted(fd int) error

	// OnAccepting is invoked as a freshly accepted fd begins onboarding,
	// before it is registered with the poller or has any EndPoint.
	OnAccepting(fd int)

	// OnAccepted is invoked once a freshly accepted fd's EndPoint and
	// Connection have been fully constructed and registered.
	OnAccepted(fd int)

	OnAcceptFailed(err error)
	ConnectionFailed(fd int, err error)
	ConnectionOpened(conn Connection)
	ConnectionClosed(conn Connection, cause error)
	EndPointOpened(ep EndPoint)
	EndPointClosed(ep EndPoint)
}
