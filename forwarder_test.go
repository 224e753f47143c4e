package pfresolved

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// startFakeUpstream runs a minimal UDP DNS server that answers every A/AAAA
// question with the given address, so forwarder tests don't depend on
// outside network access.
func startFakeUpstream(t *testing.T, addr string) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	srv := &dns.Server{PacketConn: pc}
	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		q := r.Question[0]
		switch q.Qtype {
		case dns.TypeA:
			rr, _ := dns.NewRR(q.Name + " 300 IN A " + addr)
			m.Answer = append(m.Answer, rr)
		case dns.TypeAAAA:
			rr, _ := dns.NewRR(q.Name + " 300 IN AAAA " + addr)
			m.Answer = append(m.Answer, rr)
		}
		_ = w.WriteMsg(m)
	})
	srv.Handler = mux
	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestUpstreamForwarderLookupV4(t *testing.T) {
	endpoint := startFakeUpstream(t, "192.0.2.1")
	f := NewUpstreamForwarder(endpoint, false, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := f.Lookup(ctx, "example.com", AddressFamilyV4)
	require.NoError(t, err)
	require.NotEmpty(t, r.Answer)
	require.Equal(t, dns.TypeA, r.Answer[0].Header().Rrtype)
}

func TestUpstreamForwarderLookupV6(t *testing.T) {
	endpoint := startFakeUpstream(t, "2001:db8::1")
	f := NewUpstreamForwarder(endpoint, false, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := f.Lookup(ctx, "example.com", AddressFamilyV6)
	require.NoError(t, err)
	require.NotEmpty(t, r.Answer)
	require.Equal(t, dns.TypeAAAA, r.Answer[0].Header().Rrtype)
}

func TestUpstreamForwarderConcurrentLookups(t *testing.T) {
	endpoint := startFakeUpstream(t, "192.0.2.2")
	f := NewUpstreamForwarder(endpoint, false, nil)

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err := f.Lookup(ctx, "concurrent.example.com", AddressFamilyV4)
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}
}

func TestUpstreamForwarderDialFailure(t *testing.T) {
	f := NewUpstreamForwarder("127.0.0.1:1", false, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := f.Lookup(ctx, "example.com", AddressFamilyV4)
	require.Error(t, err)
}

func TestUpstreamForwarderString(t *testing.T) {
	plain := NewUpstreamForwarder("127.0.0.1:53", false, nil)
	require.Equal(t, "DNS(127.0.0.1:53)", plain.String())

	dot := NewUpstreamForwarder("127.0.0.1:853", true, nil)
	require.Equal(t, "DoT(127.0.0.1:853)", dot.String())
}
