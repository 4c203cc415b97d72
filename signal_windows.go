//go:build windows

package hostloop

// signalBridge is inert on Windows, which has no signal descriptor.
type signalBridge struct{}

func newSignalBridge(r *Reactor, table *SignalTable) *signalBridge {
	return &signalBridge{}
}

func (b *signalBridge) arm() error { return nil }

func (b *signalBridge) disarm() error { return nil }
