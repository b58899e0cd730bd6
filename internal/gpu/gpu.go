// Package gpu implements the scanner's device contract on an OpenCL
// compute device. Each resource set owns its own command queue, kernel
// instance, and buffers; the two sets share one read-only target buffer
// written once per scan.
package gpu

import (
	"errors"

	"github.com/clforge/md5scan/internal/scanner"
)

// ErrNoDevice is returned by New when no OpenCL GPU device is usable.
var ErrNoDevice = errors.New("no OpenCL GPU device found")

// Info describes a detected OpenCL GPU device.
type Info struct {
	Index  int
	Name   string
	Vendor string
}

// Config configures a scan device.
type Config struct {
	// DeviceIndex selects a device from ListDevices.
	DeviceIndex int
	// Capacity is the maximum batch size the resource sets are sized
	// for. All buffers are allocated once at this capacity and never
	// reallocated.
	Capacity int
}

// Device is an active OpenCL scan session. Created by New, must be
// closed with Close.
type Device struct {
	impl deviceImpl
}

// SetTarget writes the 16-byte target digest to the device. Written once
// per scan, read-only thereafter.
func (d *Device) SetTarget(digest [16]byte) error {
	return d.impl.setTarget(digest)
}

// ResourceSets returns the device's two buffer sets.
func (d *Device) ResourceSets() (scanner.ResourceSet, scanner.ResourceSet) {
	return d.impl.resourceSets()
}

// Close releases all device resources.
func (d *Device) Close() error {
	return d.impl.close()
}

// deviceImpl is the backend interface behind the build-tag split.
type deviceImpl interface {
	setTarget(digest [16]byte) error
	resourceSets() (scanner.ResourceSet, scanner.ResourceSet)
	close() error
}
