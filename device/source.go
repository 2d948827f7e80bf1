package device

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/justapithecus/airlock/types"
)

// ErrUnknownDevice is returned for fingerprints no source knows about.
var ErrUnknownDevice = errors.New("unknown device")

// Source enumerates the devices currently available.
type Source interface {
	Devices(ctx context.Context) ([]types.Device, error)
}

// StaticSource serves a fixed device list from configuration. A USB device
// is listed only while its block path (or mount, when no path is set)
// exists, which is how hot-plugging shows up on the host. Network
// destinations are always listed.
type StaticSource []types.Device

// Devices implements Source.
func (s StaticSource) Devices(_ context.Context) ([]types.Device, error) {
	out := make([]types.Device, 0, len(s))
	for _, d := range s {
		if d.IsUSB() && !present(d) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func present(d types.Device) bool {
	p := d.Path
	if p == "" {
		p = d.Mount
	}
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}

// Lookup finds a present device by fingerprint.
func Lookup(ctx context.Context, src Source, fingerprint string) (types.Device, error) {
	devs, err := src.Devices(ctx)
	if err != nil {
		return types.Device{}, err
	}
	for _, d := range devs {
		if d.Fingerprint == fingerprint {
			return d, nil
		}
	}
	return types.Device{}, fmt.Errorf("%w: %s", ErrUnknownDevice, fingerprint)
}
