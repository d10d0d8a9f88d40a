package session

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"
)

// Mode selects the topology variant.
type Mode string

const (
	ModeStandalone Mode = "standalone"
	ModeCluster    Mode = "cluster"
	ModeSentinel   Mode = "sentinel"
	ModeMemory     Mode = "memory" // embedded, single process
)

// ParseMode accepts the mode names case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeStandalone, ModeCluster, ModeSentinel, ModeMemory:
		return m, nil
	case "":
		return ModeStandalone, nil
	default:
		return "", fmt.Errorf("session: unknown mode %q", s)
	}
}

// Topology is the resolved, immutable connection descriptor.
type Topology struct {
	Mode  Mode
	Addrs []string // host:port; sentinel addresses in sentinel mode

	// Sentinel only.
	MasterName       string
	SentinelUsername string
	SentinelPassword string

	Username string
	Password string
	DB       int // ignored by cluster

	TLS *tls.Config // nil => plaintext

	DialTimeout  time.Duration // also bounds the open handshake
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int // 0 => client default
}

// Validate checks the fields each mode requires.
func (t Topology) Validate() error {
	switch t.Mode {
	case ModeStandalone:
		if len(t.Addrs) != 1 {
			return fmt.Errorf("session: standalone mode needs exactly one address, got %d", len(t.Addrs))
		}
	case ModeCluster:
		if len(t.Addrs) == 0 {
			return fmt.Errorf("session: cluster mode needs at least one address")
		}
	case ModeSentinel:
		if len(t.Addrs) == 0 {
			return fmt.Errorf("session: sentinel mode needs at least one sentinel address")
		}
		if t.MasterName == "" {
			return fmt.Errorf("session: sentinel mode needs a master name")
		}
	case ModeMemory:
	default:
		return fmt.Errorf("session: unknown mode %q", t.Mode)
	}
	for _, a := range t.Addrs {
		if strings.TrimSpace(a) == "" {
			return fmt.Errorf("session: empty address")
		}
	}
	return nil
}
