package agent

// Base provides the identity plumbing shared by every agent.
type Base struct {
	info Info
}

// NewBase seeds the helper with agent info.
func NewBase(info Info) Base {
	return Base{info: info}
}

// Info implements Agent.Info.
func (b *Base) Info() Info {
	return b.info
}
