//go:build !cgo

package gpu

// Available returns false when OpenCL support is not compiled in.
func Available() bool { return false }

// ListDevices returns nil when OpenCL support is not compiled in.
func ListDevices() ([]Info, error) { return nil, nil }

// New returns ErrNoDevice when OpenCL support is not compiled in.
func New(cfg Config) (*Device, error) {
	return nil, ErrNoDevice
}
