package unittype

import "github.com/initcore/initcore/internal/unit"

// Device state follows the kernel uevent stream, not jobs: Start, Stop and
// Reload return ErrNotSupported, so the engine finishes any job on a device
// with result=skipped. Plugged/Unplugged are called by the
// manager's device component as uevents arrive.
type Device struct {
	base
}

func newDevice(u *unit.Unit, deps Deps) *Device {
	return &Device{base: base{unit: u, deps: deps}}
}

func (d *Device) Start() error  { return ErrNotSupported }
func (d *Device) Stop() error   { return ErrNotSupported }
func (d *Device) Reload() error { return ErrNotSupported }

// Plugged marks the device present.
func (d *Device) Plugged() {
	d.setState(unit.Active, "plugged")
}

// Unplugged marks the device gone.
func (d *Device) Unplugged() {
	d.setState(unit.Inactive, "dead")
}

func (d *Device) SigChld(int, bool)                {}
func (d *Device) Serialize() map[string]string     { return d.serializeState() }
func (d *Device) Deserialize(kv map[string]string) { d.deserializeState(kv) }
