package offsync

import (
	"context"
	"sync"
	"time"
)

const (
	defaultProbeInterval      = 10 * time.Second
	defaultBackgroundInterval = 5 * time.Minute
)

// ProbeFunc checks whether the platform is reachable. A nil error means
// online.
type ProbeFunc func(ctx context.Context) error

type MonitorOptions struct {
	Probe              ProbeFunc
	ProbeInterval      time.Duration
	BackgroundInterval time.Duration
	Logger             Logger
}

// Monitor drives the service's connectivity flag from periodic reachability
// probes, and runs the periodic background drain that catches anything the
// event-driven triggers missed.
type Monitor struct {
	service            *Service
	probe              ProbeFunc
	probeInterval      time.Duration
	backgroundInterval time.Duration
	logger             Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewMonitor(service *Service, opts MonitorOptions) *Monitor {
	probeInterval := opts.ProbeInterval
	if probeInterval <= 0 {
		probeInterval = defaultProbeInterval
	}
	backgroundInterval := opts.BackgroundInterval
	if backgroundInterval <= 0 {
		backgroundInterval = defaultBackgroundInterval
	}
	return &Monitor{
		service:            service,
		probe:              opts.Probe,
		probeInterval:      probeInterval,
		backgroundInterval: backgroundInterval,
		logger:             opts.Logger,
		stop:               make(chan struct{}),
	}
}

func (m *Monitor) Start() {
	if m == nil {
		return
	}
	if m.probe != nil {
		m.wg.Add(1)
		go m.probeLoop()
	}
	m.wg.Add(1)
	go m.backgroundLoop()
}

func (m *Monitor) Stop() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	m.wg.Wait()
}

func (m *Monitor) probeLoop() {
	defer m.wg.Done()
	m.runProbe()
	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.runProbe()
		}
	}
}

func (m *Monitor) runProbe() {
	ctx, cancel := context.WithTimeout(context.Background(), m.probeInterval)
	err := m.probe(ctx)
	cancel()
	online := err == nil
	if online != m.service.Online() {
		if m.logger != nil {
			m.logger.Printf("offsync: connectivity changed, online=%v", online)
		}
		m.service.SetOnline(online)
	}
}

// backgroundLoop is the safety net drain: even with no enqueues and no
// connectivity transitions, a backlog gets another chance on a fixed cadence.
func (m *Monitor) backgroundLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.backgroundInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.service.Drain(context.Background())
		}
	}
}
