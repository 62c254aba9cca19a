package stream

import (
	"sync"
)

// maxTotalStreams caps concurrent streams across all clients.
const maxTotalStreams = 256

// streamLimiter tracks concurrent SSE connections per IP and globally.
type streamLimiter struct {
	mu          sync.Mutex
	connections map[string]int
	total       int
	maxPerIP    int
	maxTotal    int
}

func newStreamLimiter(maxPerIP int) *streamLimiter {
	return &streamLimiter{
		connections: make(map[string]int),
		maxPerIP:    maxPerIP,
		maxTotal:    maxTotalStreams,
	}
}

// acquire registers a new connection for ip. It returns false if the IP
// or global limit has been reached.
func (l *streamLimiter) acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.total >= l.maxTotal || l.connections[ip] >= l.maxPerIP {
		return false
	}
	l.connections[ip]++
	l.total++
	return true
}

// release returns a slot acquired for ip.
func (l *streamLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.connections[ip] <= 0 {
		return
	}
	l.connections[ip]--
	l.total--
	if l.connections[ip] == 0 {
		delete(l.connections, ip)
	}
}

// count returns the number of active connections for ip.
func (l *streamLimiter) count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connections[ip]
}

// active returns the number of active connections across all IPs.
func (l *streamLimiter) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
