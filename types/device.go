package types

// DeviceKind classifies a device descriptor.
type DeviceKind string

// Device kinds.
const (
	DeviceKindUSB     DeviceKind = "usb"
	DeviceKindNetwork DeviceKind = "net"
)

// Device describes a source or destination known to the device server.
// Descriptors come from an external enumeration source; airlock never
// probes hardware itself.
type Device struct {
	Fingerprint string     `json:"fingerprint" yaml:"fingerprint"`
	Kind        DeviceKind `json:"kind" yaml:"kind"`
	Description string     `json:"description" yaml:"description"`
	// Path is the block device (or image file) used by wipe and imagedisk.
	Path string `json:"-" yaml:"path"`
	// Mount is the directory holding the device files, used by copy.
	Mount string `json:"-" yaml:"mount"`
	// URL is the upload base URL of a network destination.
	URL string `json:"-" yaml:"url"`
}

// IsUSB reports whether the device is removable media.
func (d Device) IsUSB() bool {
	return d.Kind == DeviceKindUSB
}

// GateStatus is the advisory busy indicator of the device server.
type GateStatus string

// Gate status values.
const (
	GateIdle GateStatus = "idle"
	GateBusy GateStatus = "busy"
)

// ServerStatus is the payload of the device server status endpoint.
type ServerStatus struct {
	Name    string     `json:"name"`
	Message string     `json:"message"`
	Version string     `json:"version"`
	Status  GateStatus `json:"status"`
}

// DirEntry is one entry of a dirty device directory listing.
type DirEntry struct {
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	IsDir     bool   `json:"is_dir"`
	IsSymlink bool   `json:"is_symlink"`
	Timestamp int64  `json:"timestamp"`
}

// CopyRequest is the body of a copy operation. Destinations are mounted
// filesystems; formatting them is a wipe concern.
type CopyRequest struct {
	Selected []string `json:"selected"`
}
