package pfresolved

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

// Forwarder resolves a hostname against a single family of record (A or
// AAAA) through an upstream resolver. The worker holds one Forwarder per
// configured upstream and tries them in order until one answers, the way
// forwarderproc in the original tries each configured forwarder address.
type Forwarder interface {
	Lookup(ctx context.Context, hostname string, family AddressFamily) (*dns.Msg, error)
	fmt.Stringer
}

// UpstreamForwarder is a Forwarder backed by a single upstream address,
// multiplexing concurrent lookups over one persistent connection. Plain
// forwarders dial UDP directly; DNS-over-TLS forwarders set tlsConfig
// and dial tcp-tls, reusing the cert bundle loaded by TLSClientConfig.
type UpstreamForwarder struct {
	endpoint  string
	useTLS    bool
	tlsConfig *tls.Config
	mux       *connMux
}

var _ Forwarder = (*UpstreamForwarder)(nil)

// NewUpstreamForwarder builds a forwarder for a single configured resolver
// address. tlsConfig must be non-nil when useTLS is set.
func NewUpstreamForwarder(endpoint string, useTLS bool, tlsConfig *tls.Config) *UpstreamForwarder {
	f := &UpstreamForwarder{
		endpoint:  endpoint,
		useTLS:    useTLS,
		tlsConfig: tlsConfig,
	}
	f.mux = newConnMux(f.dial)
	return f
}

func (f *UpstreamForwarder) dial() (*dns.Conn, error) {
	if f.useTLS {
		return dns.DialWithTLS("tcp", f.endpoint, f.tlsConfig)
	}
	return dns.Dial("udp", f.endpoint)
}

// Lookup sends a single question of the given family to the upstream and
// returns its raw answer; classification into addresses/TTL/DNSSEC status
// happens in the worker, matching forwarder_ub_resolve_async_cb's separation
// between the resolve call and the outcome decision table.
func (f *UpstreamForwarder) Lookup(ctx context.Context, hostname string, family AddressFamily) (*dns.Msg, error) {
	qtype := dns.TypeA
	if family == AddressFamilyV6 {
		qtype = dns.TypeAAAA
	}
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(hostname), qtype)
	q.SetEdns0(4096, true)

	Log.WithFields(logrus.Fields{
		"component": "forwarder",
		"host":      hostname,
		"family":    family,
		"resolver":  f.endpoint,
	}).Debug("sending upstream query")

	r := newConnRequest(q)
	select {
	case f.mux.requests <- r:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return r.waitFor(ctx)
}

func (f *UpstreamForwarder) String() string {
	if f.useTLS {
		return fmt.Sprintf("DoT(%s)", f.endpoint)
	}
	return fmt.Sprintf("DNS(%s)", f.endpoint)
}

// connMux lazily opens a single connection to an upstream on the first
// lookup, multiplexes concurrent requests over it by rewriting query IDs,
// and reconnects on the next lookup after any read/write error. Ported from
// the DoT connection-multiplexing pattern the teacher used for every
// stream-based upstream, generalized here to cover both plain and TLS
// dialing.
type connMux struct {
	dial     func() (*dns.Conn, error)
	requests chan *connRequest
}

func newConnMux(dial func() (*dns.Conn, error)) *connMux {
	m := &connMux{
		dial:     dial,
		requests: make(chan *connRequest),
	}
	go m.run()
	return m
}

func (m *connMux) run() {
	var (
		wg       sync.WaitGroup
		inFlight inFlightQueue
	)
	for req := range m.requests {
		conn, err := m.dial()
		if err != nil {
			req.markDone(nil, fmt.Errorf("dialing upstream: %w", err))
			continue
		}
		done := make(chan struct{})
		wg.Add(2)

		go func() { m.requests <- req }()

		go func() { // writer
			for {
				select {
				case req := <-m.requests:
					query := inFlight.add(req)
					if err := conn.WriteMsg(query); err != nil {
						req.markDone(nil, fmt.Errorf("writing query: %w", err))
						conn.Close()
						wg.Done()
						return
					}
				case <-done:
					wg.Done()
					return
				}
			}
		}()
		go func() { // reader
			for {
				a, err := conn.ReadMsg()
				if err != nil {
					close(done)
					wg.Done()
					return
				}
				req := inFlight.get(a.Id)
				if req == nil {
					continue
				}
				req.markDone(a, nil)
			}
		}()

		wg.Wait()
	}
}

// connRequest is a single in-flight lookup awaiting an answer from the
// shared upstream connection.
type connRequest struct {
	q, a *dns.Msg
	err  error
	done chan struct{}
}

func newConnRequest(q *dns.Msg) *connRequest {
	return &connRequest{q: q, done: make(chan struct{})}
}

func (r *connRequest) waitFor(ctx context.Context) (*dns.Msg, error) {
	select {
	case <-r.done:
		return r.a, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *connRequest) markDone(a *dns.Msg, err error) {
	if a != nil {
		a.Id = r.q.Id
	}
	r.a, r.err = a, err
	close(r.done)
}

// inFlightQueue maps the rewritten per-connection query ID back to the
// connRequest that issued it, so answers can be matched to requests even
// though multiple lookups share one connection.
type inFlightQueue struct {
	requests  map[uint16]*connRequest
	mu        sync.Mutex
	idCounter uint16
}

func (q *inFlightQueue) add(r *connRequest) *dns.Msg {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.requests == nil {
		q.requests = make(map[uint16]*connRequest)
	}
	q.idCounter++
	q.requests[q.idCounter] = r
	query := r.q.Copy()
	query.Id = q.idCounter
	return query
}

func (q *inFlightQueue) get(id uint16) *connRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.requests[id]
	if !ok {
		return nil
	}
	delete(q.requests, id)
	return r
}
