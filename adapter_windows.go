//go:build windows

package hostloop

func defaultAdapter() Adapter {
	return NewHybridAdapter()
}
