package unittype

import "github.com/initcore/initcore/internal/unit"

// Socket holds the listen state for socket activation. Actual fd binding
// is low-level I/O owned by an external collaborator; the machine tracks
// dead → listening → running and fires the unit's Triggers targets when
// the collaborator reports an incoming connection.
type Socket struct {
	base
	cfg *SocketConfig
}

func newSocket(u *unit.Unit, deps Deps) *Socket {
	cfg, _ := u.Config.(*SocketConfig)
	if cfg == nil {
		cfg = &SocketConfig{}
	}
	return &Socket{base: base{unit: u, deps: deps}, cfg: cfg}
}

func (s *Socket) Start() error {
	s.setState(unit.Activating, "start-pre")
	s.setState(unit.Active, "listening")
	return nil
}

func (s *Socket) Stop() error {
	s.setState(unit.Inactive, "dead")
	return nil
}

func (s *Socket) Reload() error { return ErrNotSupported }

// ConnectionReceived is called by the socket collaborator when a peer
// connects; the triggered service takes over the connection.
func (s *Socket) ConnectionReceived() {
	if !s.unit.IsActive() {
		return
	}
	s.unit.SubState = "running"
	s.trigger()
}

// ServiceSettled returns the socket to plain listening once its triggered
// service has come up (or gone back down).
func (s *Socket) ServiceSettled() {
	if s.unit.IsActive() {
		s.unit.SubState = "listening"
	}
}

func (s *Socket) SigChld(int, bool)                {}
func (s *Socket) Serialize() map[string]string     { return s.serializeState() }
func (s *Socket) Deserialize(kv map[string]string) { s.deserializeState(kv) }
