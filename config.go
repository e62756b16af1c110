package session

// Role distinguishes which side of the connection this session plays (§3).
type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

// ClientPreface is the exact octet string a client sends and a server
// expects at the start of an HTTP/2 connection (§6). Comparison against it
// MUST be byte-exact (SPEC_FULL Open Question decision 1) — the teacher's
// case-insensitive comparison is a source bug, not a feature to keep.
const ClientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// Config holds the connection-level defaults from §6. It plays the role the
// teacher's gospiderOption/spec2option pair plays in client.go: a small
// value type resolved once at construction time, not a layered
// file/env config system — the teacher has none, and neither does the rest
// of the pack's HTTP/2 material (see SPEC_FULL.md AMBIENT STACK).
type Config struct {
	MaxFrameSize                uint32
	InitialWindowSize           uint32
	HeaderTableSize             uint32
	MaxHeaderListSize           uint32
	LocalMaxConcurrentStreams   uint32
	RemoteMaxConcurrentStreams  uint32
	PushEnabled                 bool
	DefaultStreamPriority       uint32
	MaxPriority                 uint32
	SettingsAckTimeoutSeconds   int
	PingAckTimeoutSeconds       int

	// InitialConnectionWindowSize is the connection-level receive window this
	// session announces via a WINDOW_UPDATE on stream 0 immediately after the
	// initial SETTINGS frame, the way the teacher's client.go widens its
	// single-stream receive window at startup. Zero means "don't widen it" —
	// the connection keeps HTTP/2's default 65535-byte window.
	InitialConnectionWindowSize uint32
}

func DefaultConfig() Config {
	return Config{
		MaxFrameSize:               DefaultMaxFrameSize,
		InitialWindowSize:          65535,
		HeaderTableSize:            4096,
		MaxHeaderListSize:          10485760,
		LocalMaxConcurrentStreams:  250,
		RemoteMaxConcurrentStreams: 100,
		PushEnabled:                true,
		DefaultStreamPriority:      DefaultStreamPriority,
		MaxPriority:                DefaultMaxPriority,
		SettingsAckTimeoutSeconds:  60,
		PingAckTimeoutSeconds:      3,

		InitialConnectionWindowSize: 1 << 24,
	}
}

// InitialSettings returns the SETTINGS payload this session announces on
// startup, built from Config the way client.go's spec2option assembled
// gospiderOption.initialSetting.
func (c Config) InitialSettings() []Setting {
	push := uint32(0)
	if c.PushEnabled {
		push = 1
	}
	return []Setting{
		{ID: SettingEnablePush, Val: push},
		{ID: SettingInitialWindowSize, Val: c.InitialWindowSize},
		{ID: SettingMaxFrameSize, Val: c.MaxFrameSize},
		{ID: SettingMaxHeaderListSize, Val: c.MaxHeaderListSize},
		{ID: SettingMaxConcurrentStreams, Val: c.LocalMaxConcurrentStreams},
	}
}
