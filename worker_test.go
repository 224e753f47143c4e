package pfresolved

import (
	"context"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// fakeForwarder returns a fixed *dns.Msg or error for every lookup,
// regardless of hostname/family, so worker tests don't depend on a real
// upstream.
type fakeForwarder struct {
	name string
	msg  *dns.Msg
	err  error
}

func (f *fakeForwarder) Lookup(ctx context.Context, hostname string, family AddressFamily) (*dns.Msg, error) {
	return f.msg, f.err
}

func (f *fakeForwarder) String() string { return f.name }

func answerWithA(qname string, rcode int, ips ...string) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(qname), dns.TypeA)
	m.Rcode = rcode
	for _, ip := range ips {
		rr, _ := dns.NewRR(dns.Fqdn(qname) + " 300 IN A " + ip)
		m.Answer = append(m.Answer, rr)
	}
	return m
}

func TestWorkerResolveSuccess(t *testing.T) {
	msg := answerWithA("example.com", dns.RcodeSuccess, "192.0.2.1", "192.0.2.2")
	w := NewWorker([]Forwarder{&fakeForwarder{name: "f1", msg: msg}}, DNSSECNone, nil)

	got := w.Resolve(context.Background(), "example.com", AddressFamilyV4)
	require.Equal(t, MessageResolveOk, got.Type)
	require.Equal(t, int32(300), got.TTL)
	require.Len(t, got.Records, 2)
}

func TestWorkerResolveNXDomain(t *testing.T) {
	msg := answerWithA("nope.example.com", dns.RcodeNameError)
	w := NewWorker([]Forwarder{&fakeForwarder{name: "f1", msg: msg}}, DNSSECNone, nil)

	got := w.Resolve(context.Background(), "nope.example.com", AddressFamilyV4)
	require.Equal(t, MessageResolveOk, got.Type)
	require.Empty(t, got.Records)
}

func TestWorkerResolveFallsThroughForwarders(t *testing.T) {
	good := answerWithA("example.com", dns.RcodeSuccess, "192.0.2.9")
	w := NewWorker([]Forwarder{
		&fakeForwarder{name: "bad", err: context.DeadlineExceeded},
		&fakeForwarder{name: "good", msg: good},
	}, DNSSECNone, nil)

	got := w.Resolve(context.Background(), "example.com", AddressFamilyV4)
	require.Equal(t, MessageResolveOk, got.Type)
	require.Len(t, got.Records, 1)
}

func TestWorkerResolveAllForwardersFail(t *testing.T) {
	w := NewWorker([]Forwarder{
		&fakeForwarder{name: "bad1", err: context.DeadlineExceeded},
		&fakeForwarder{name: "bad2", err: context.DeadlineExceeded},
	}, DNSSECNone, nil)

	got := w.Resolve(context.Background(), "example.com", AddressFamilyV4)
	require.Equal(t, MessageResolveFail, got.Type)
}

func TestWorkerResolveEmptyAnswerIsSuccessWithNoAddresses(t *testing.T) {
	msg := answerWithA("example.com", dns.RcodeSuccess)
	w := NewWorker([]Forwarder{&fakeForwarder{name: "f1", msg: msg}}, DNSSECNone, nil)

	got := w.Resolve(context.Background(), "example.com", AddressFamilyV4)
	require.Equal(t, MessageResolveOk, got.Type)
	require.Empty(t, got.Records)
}

func TestWorkerWarmUpDoesNotPanicOnError(t *testing.T) {
	w := NewWorker([]Forwarder{&fakeForwarder{name: "f1", err: context.DeadlineExceeded}}, DNSSECNone, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.WarmUp(ctx)
}
