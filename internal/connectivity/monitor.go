// Package connectivity turns periodic health probes into online/offline
// transitions.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultInterval = 5 * time.Second

// Pinger is satisfied by remote.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor probes the server and publishes a value on every change of
// reachability. The first probe result is always published.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	log      logrus.FieldLogger

	mu      sync.RWMutex
	online  bool
	known   bool
	changes chan bool
	trigger chan struct{}
}

func NewMonitor(pinger Pinger, interval time.Duration, log logrus.FieldLogger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Monitor{
		pinger:   pinger,
		interval: interval,
		log:      log.WithField("component", "connectivity"),
		changes:  make(chan bool, 1),
		trigger:  make(chan struct{}, 1),
	}
}

// Changes delivers the latest reachability; an unread value is replaced by a
// newer one.
func (m *Monitor) Changes() <-chan bool {
	return m.changes
}

func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// CheckNow asks the running monitor to probe without waiting for the tick.
func (m *Monitor) CheckNow() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probe(ctx)
	for {
		select {
		case <-ticker.C:
			m.probe(ctx)
		case <-m.trigger:
			m.probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	err := m.pinger.Ping(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return
	}
	m.set(err == nil)
	if err != nil {
		m.log.WithError(err).Debug("health probe failed")
	}
}

func (m *Monitor) set(online bool) {
	m.mu.Lock()
	changed := !m.known || m.online != online
	m.online = online
	m.known = true
	m.mu.Unlock()

	if !changed {
		return
	}
	m.log.WithField("online", online).Info("connectivity changed")

	// keep only the newest value
	for {
		select {
		case m.changes <- online:
			return
		default:
		}
		select {
		case <-m.changes:
		default:
		}
	}
}
