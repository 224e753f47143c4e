package pfresolved

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"github.com/genua/pfresolved/dnssec"
)

// DNSSECLevel controls how aggressively the worker validates answers,
// matching enum dnssec_level.
type DNSSECLevel int

const (
	DNSSECNone DNSSECLevel = iota
	DNSSECLog
	DNSSECValidate
	DNSSECForce
)

func ParseDNSSECLevel(s string) DNSSECLevel {
	switch s {
	case "log":
		return DNSSECLog
	case "validate":
		return DNSSECValidate
	case "force":
		return DNSSECForce
	default:
		return DNSSECNone
	}
}

// lookupTimeout bounds how long the worker waits for any one forwarder
// before trying the next one or giving up, the way forwarder_ub_ctx_init's
// libunbound context applies its own internal timeout per upstream.
const lookupTimeout = 5 * time.Second

// Worker answers ResolveReq messages by querying the configured upstream
// forwarders and optionally validating the answer against a DNSSEC trust
// anchor, turning the outcome into a ResolveOk or ResolveFail message. It
// holds no state between requests, the way the original's forwarderproc
// never remembers anything about a hostname across resolves.
type Worker struct {
	Forwarders  []Forwarder
	DNSSECLevel DNSSECLevel
	Validator   *dnssec.Validator
}

// NewWorker builds a Worker. validator may be nil when level is
// DNSSECNone.
func NewWorker(forwarders []Forwarder, level DNSSECLevel, validator *dnssec.Validator) *Worker {
	return &Worker{Forwarders: forwarders, DNSSECLevel: level, Validator: validator}
}

// WarmUp issues one throwaway query before the worker drops privilege and
// chroots, so any files a resolver library needs to open (cert bundle,
// trust anchor) are still reachable. Matches forwarderproc's warm-up query
// in forwarder.c, run once at startup before the privilege-drop syscalls.
func (w *Worker) WarmUp(ctx context.Context) {
	if len(w.Forwarders) == 0 {
		return
	}
	_, err := w.Forwarders[0].Lookup(ctx, "localhost", AddressFamilyV4)
	Log.WithField("component", "worker").WithError(err).Debug("warm-up query completed")
}

// Resolve answers a single ResolveReq, trying each forwarder in order until
// one returns an answer it is willing to use, then builds the ResolveOk or
// ResolveFail message to send back to the controller.
func (w *Worker) Resolve(ctx context.Context, hostname string, family AddressFamily) Message {
	var lastErr error
	for _, fwd := range w.Forwarders {
		lookupCtx, cancel := context.WithTimeout(ctx, lookupTimeout)
		r, err := fwd.Lookup(lookupCtx, hostname, family)
		cancel()
		if err != nil {
			lastErr = err
			Log.WithFields(logrus.Fields{
				"component": "worker", "host": hostname, "family": family, "resolver": fwd.String(),
			}).WithError(err).Debug("forwarder lookup failed, trying next")
			continue
		}
		return w.classify(hostname, family, r)
	}
	Log.WithFields(logrus.Fields{"component": "worker", "host": hostname, "family": family}).
		WithError(lastErr).Warn("all forwarders failed")
	return Message{Type: MessageResolveFail, Hostname: hostname, Family: family}
}

// classify turns a raw DNS answer into ResolveOk or ResolveFail, applying
// the DNSSEC disposition table: at DNSSECForce a bogus or unvalidatable
// answer is treated as a failure; at DNSSECValidate a bogus answer fails but
// insecure is accepted; at DNSSECLog validation outcomes are only logged;
// at DNSSECNone validation is skipped entirely. Matches
// forwarder_ub_resolve_async_cb's outcome decision table.
func (w *Worker) classify(hostname string, family AddressFamily, r *dns.Msg) Message {
	fail := Message{Type: MessageResolveFail, Hostname: hostname, Family: family}

	if r.Rcode != dns.RcodeSuccess && r.Rcode != dns.RcodeNameError {
		Log.WithFields(logrus.Fields{
			"component": "worker", "host": hostname, "family": family, "rcode": dns.RcodeToString[r.Rcode],
		}).Warn("non-success rcode")
		return fail
	}
	if r.Rcode == dns.RcodeNameError {
		Log.WithFields(logrus.Fields{"component": "worker", "host": hostname, "family": family}).
			Info("nxdomain")
		return Message{
			Type: MessageResolveOk, Hostname: hostname, Family: family, TTL: int32(negativeTTL(r)),
		}
	}

	status := w.validate(r)
	if w.DNSSECLevel == DNSSECForce && status != DNSSECStatusSecure {
		Log.WithFields(logrus.Fields{"component": "worker", "host": hostname, "family": family, "dnssec": status}).
			Warn("answer is not dnssec-secure, rejecting answer under force mode")
		return fail
	}
	if w.DNSSECLevel == DNSSECValidate && status == DNSSECStatusBogus {
		Log.WithFields(logrus.Fields{"component": "worker", "host": hostname, "family": family}).
			Warn("dnssec validation failed, rejecting answer")
		return fail
	}

	var ttl uint32 = ^uint32(0)
	var records []AddressRecord
	wantType := uint16(dns.TypeA)
	if family == AddressFamilyV6 {
		wantType = dns.TypeAAAA
	}
	for _, rr := range r.Answer {
		if rr.Header().Rrtype != wantType {
			continue
		}
		var addr netip.Addr
		switch v := rr.(type) {
		case *dns.A:
			addr = netipFromIP(v.A)
		case *dns.AAAA:
			addr = netipFromIP(v.AAAA)
		default:
			continue
		}
		if !addr.IsValid() {
			continue
		}
		records = append(records, AddressRecord{Addr: addr})
		if rr.Header().Ttl < ttl {
			ttl = rr.Header().Ttl
		}
	}
	if len(records) == 0 {
		if ttl == ^uint32(0) {
			ttl = uint32(negativeTTL(r))
		}
		Log.WithFields(logrus.Fields{"component": "worker", "host": hostname, "family": family}).
			Debug("noerror with no matching records")
		return Message{Type: MessageResolveOk, Hostname: hostname, Family: family, TTL: int32(ttl)}
	}
	return Message{
		Type:     MessageResolveOk,
		Hostname: hostname,
		Family:   family,
		TTL:      int32(ttl),
		Records:  records,
	}
}

// negativeTTL extracts the negative-caching TTL from a NOERROR/NXDOMAIN
// answer's authority-section SOA record, per RFC 2308; falling back to 0
// (which nextRefresh then floors to minTTL) when no SOA is present.
func negativeTTL(r *dns.Msg) int {
	for _, rr := range r.Ns {
		if soa, ok := rr.(*dns.SOA); ok {
			return int(soa.Minttl)
		}
	}
	return 0
}

func (w *Worker) validate(r *dns.Msg) DNSSECStatus {
	if w.DNSSECLevel == DNSSECNone || w.Validator == nil {
		return DNSSECStatusUnchecked
	}
	err := w.Validator.Validate(r)
	switch {
	case err == nil:
		return DNSSECStatusSecure
	case errors.Is(err, dnssec.ErrInsecureDelegation):
		return DNSSECStatusInsecure
	default:
		if w.DNSSECLevel == DNSSECLog {
			Log.WithField("component", "worker").WithError(err).Info("dnssec validation failed (log only)")
			return DNSSECStatusInsecure
		}
		return DNSSECStatusBogus
	}
}

func netipFromIP(ip []byte) netip.Addr {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}
	}
	return addr.Unmap()
}
