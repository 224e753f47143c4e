package pfresolved

import (
	"net/netip"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// initialResolveDelay is how long the scheduler waits after starting up
// before issuing the first resolve for every host/family, matching
// parent_start_resolve_timeouts's timer_add(..., 2).
const initialResolveDelay = 2 * time.Second

// resolveSender issues one resolve request for hostname/family and does not
// block for the answer; the result arrives later through
// Scheduler.HandleResult. In the running daemon this is the controller
// sending a ResolveReq to the worker over the message link; in tests it can
// be a fake that answers synchronously.
type resolveSender func(hostname string, family AddressFamily)

// Scheduler owns the per-(host,family) refresh timers. It guarantees a
// single resolve is ever in flight for a given host/family pair at a time
// (the Idle -> InFlight -> Idle state machine), and reschedules the next
// attempt itself once a result or failure comes back.
type Scheduler struct {
	mu      sync.Mutex
	minTTL  int
	maxTTL  int
	send    resolveSender
	hosts   map[string]*Host
	timers  map[schedKey]*time.Timer
	pusher  TablePusher
	stopped bool
}

type schedKey struct {
	hostname string
	family   AddressFamily
}

// NewScheduler builds a Scheduler for the given hosts. pusher may be nil in
// tests that don't care about kernel table pushes.
func NewScheduler(hosts []*Host, minTTL, maxTTL int, send resolveSender, pusher TablePusher) *Scheduler {
	s := &Scheduler{
		minTTL: minTTL,
		maxTTL: maxTTL,
		send:   send,
		hosts:  make(map[string]*Host, len(hosts)),
		timers: make(map[schedKey]*time.Timer),
		pusher: pusher,
	}
	for _, h := range hosts {
		s.hosts[h.Hostname] = h
	}
	return s
}

// Start arms the initial timer for every host and both address families.
func (s *Scheduler) Start() {
	Log.WithField("component", "scheduler").Info("starting resolve timeouts")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.hosts {
		s.armLocked(h.Hostname, AddressFamilyV4, initialResolveDelay)
		s.armLocked(h.Hostname, AddressFamilyV6, initialResolveDelay)
	}
}

// Stop cancels every outstanding timer. Used on shutdown and immediately
// before a reload rebuilds the host set.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for k, t := range s.timers {
		t.Stop()
		delete(s.timers, k)
	}
}

func (s *Scheduler) armLocked(hostname string, family AddressFamily, delay time.Duration) {
	key := schedKey{hostname, family}
	s.timers[key] = time.AfterFunc(delay, func() { s.fire(hostname, family) })
}

func (s *Scheduler) fire(hostname string, family AddressFamily) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	h, ok := s.hosts[hostname]
	s.mu.Unlock()
	if !ok {
		return
	}

	state := h.stateFor(family)
	state.mu.Lock()
	if state.InFlight {
		// A result is already pending; this should not happen since we
		// only rearm after a result comes back, but guards the
		// single-flight invariant if it ever does.
		state.mu.Unlock()
		Log.WithFields(logrus.Fields{"component": "scheduler", "host": hostname, "family": family}).
			Warn("refresh timer fired while a resolve was already in flight")
		return
	}
	state.InFlight = true
	state.mu.Unlock()

	Log.WithFields(logrus.Fields{"component": "scheduler", "host": hostname, "family": family}).
		Debug("sending resolve request")
	s.send(hostname, family)
}

// HandleResult applies a resolve outcome for hostname/family, pushes the
// updated table set to the kernel on success, and rearms the timer for the
// next attempt. ok false means the forwarder reported a failure or timeout.
func (s *Scheduler) HandleResult(hostname string, family AddressFamily, ok bool, ttl int, addrs []AddressRecord) {
	s.mu.Lock()
	h, found := s.hosts[hostname]
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}
	if !found {
		Log.WithFields(logrus.Fields{"component": "scheduler", "host": hostname, "family": family}).
			Warn("resolve result for unknown host, dropping (reload raced the response?)")
		return
	}

	state := h.stateFor(family)
	state.mu.Lock()
	state.InFlight = false
	var delay time.Duration
	if ok {
		delay = time.Duration(state.nextRefresh(ttl, s.minTTL, s.maxTTL)) * time.Second
	} else {
		delay = time.Duration(state.nextBackoff()) * time.Second
	}
	state.mu.Unlock()

	if ok {
		resolved := make([]netip.Addr, len(addrs))
		for i, a := range addrs {
			resolved[i] = a.Addr
		}
		h.UpdateAddresses(family, resolved)
		if s.pusher != nil {
			for _, t := range h.Tables {
				if err := s.pusher.SetAddresses(t); err != nil {
					Log.WithFields(logrus.Fields{"component": "scheduler", "table": t.Name}).
						WithError(err).Warn("failed to push table to kernel")
				}
			}
		}
	}

	Log.WithFields(logrus.Fields{
		"component": "scheduler",
		"host":      hostname,
		"family":    family,
		"delay":     delay,
	}).Info("scheduling next resolve request")

	s.mu.Lock()
	if !s.stopped {
		s.armLocked(hostname, family, delay)
	}
	s.mu.Unlock()
}
