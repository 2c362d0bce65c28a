// control/aggregate.go
// Author: momentics <momentics@gmail.com>
//
// Control assembles ConfigStore, MetricsRegistry and DebugProbes behind the
// single api.Control surface facade.Runtime exposes to callers, so nothing
// outside this package needs to juggle the three stores separately.

package control

// Default configuration keys understood by selector.ManagedSelector and
// facade.Runtime. Values are read via Control.GetConfig()[key] with a type
// assertion; facade.Runtime keeps its current value when a key is absent or
// holds another type.
const (
	KeyForceSelectNow = "selector.force_select_now"
	KeyConnectTimeout = "selector.connect_timeout_ms"
	KeyStopTimeout    = "selector.stop_timeout_ms"
)

// Control implements api.Control over a ConfigStore/MetricsRegistry/DebugProbes
// trio.
type Control struct {
	Config  *ConfigStore
	Metrics *MetricsRegistry
	Debug   *DebugProbes
}

// New builds a Control with fresh, empty stores and the platform debug
// probes registered.
func New() *Control {
	c := &Control{
		Config:  NewConfigStore(),
		Metrics: NewMetricsRegistry(),
		Debug:   NewDebugProbes(),
	}
	RegisterPlatformProbes(c.Debug)
	return c
}

// GetConfig implements api.Control.
func (c *Control) GetConfig() map[string]any { return c.Config.GetSnapshot() }

// SetConfig implements api.Control.
func (c *Control) SetConfig(cfg map[string]any) error {
	c.Config.SetConfig(cfg)
	return nil
}

// Stats implements api.Control, merging metrics and a debug-probe snapshot.
func (c *Control) Stats() map[string]any {
	out := c.Metrics.GetSnapshot()
	for k, v := range c.Debug.DumpState() {
		out[k] = v
	}
	return out
}

// OnReload implements api.Control.
func (c *Control) OnReload(fn func()) { c.Config.OnReload(fn) }

// RegisterDebugProbe implements api.Control.
func (c *Control) RegisterDebugProbe(name string, fn func() any) { c.Debug.RegisterProbe(name, fn) }
