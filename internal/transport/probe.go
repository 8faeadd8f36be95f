package transport

import (
	"os"
	"strings"
	"sync"
)

// embeddedEnv force-overrides mode detection: "1"/"true" forces embedded,
// "0"/"false" forces remote.
const embeddedEnv = "DESKBRIDGE_EMBEDDED"

// Probe decides, per call, whether the process runs embedded (native
// bridge in-process) or remote (socket required). Detection is a pure
// function of process globals plus one cached flag the socket path sets
// once it establishes a connection.
type Probe struct {
	mu           sync.RWMutex
	embedded     bool
	remoteActive bool
}

// DetectProbe probes the environment. A registered bridge means embedded
// mode unless the environment overrides it.
func DetectProbe(bridge Bridge) *Probe {
	embedded := bridge != nil
	switch strings.ToLower(strings.TrimSpace(os.Getenv(embeddedEnv))) {
	case "1", "true", "yes":
		embedded = true
	case "0", "false", "no":
		embedded = false
	}
	return &Probe{embedded: embedded}
}

// Embedded reports whether calls should route to the native bridge. Once
// a remote connection has been established the answer is always false.
func (p *Probe) Embedded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.embedded && !p.remoteActive
}

// MarkRemote records that the socket path established a connection
func (p *Probe) MarkRemote() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteActive = true
}
