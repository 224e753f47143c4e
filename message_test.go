package pfresolved

import (
	"bufio"
	"bytes"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageRoundTripResolveReq(t *testing.T) {
	var buf bytes.Buffer
	in := Message{Type: MessageResolveReq, Hostname: "example.com", Family: AddressFamilyV4}
	require.NoError(t, WriteMessage(&buf, in))

	out, err := ReadMessage(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, in.Type, out.Type)
	require.Equal(t, in.Hostname, out.Hostname)
	require.Equal(t, in.Family, out.Family)
}

func TestMessageRoundTripResolveFail(t *testing.T) {
	var buf bytes.Buffer
	in := Message{Type: MessageResolveFail, Hostname: "nxdomain.example", Family: AddressFamilyV6}
	require.NoError(t, WriteMessage(&buf, in))

	out, err := ReadMessage(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestMessageRoundTripResolveOk(t *testing.T) {
	var buf bytes.Buffer
	in := Message{
		Type:     MessageResolveOk,
		Hostname: "example.com",
		Family:   AddressFamilyV4,
		TTL:      300,
		Records: []AddressRecord{
			{Addr: netip.MustParseAddr("192.0.2.1")},
			{Addr: netip.MustParseAddr("192.0.2.2")},
		},
	}
	require.NoError(t, WriteMessage(&buf, in))

	out, err := ReadMessage(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, in.TTL, out.TTL)
	require.Equal(t, in.Records, out.Records)
}

func TestMessageRoundTripResolveOkV6(t *testing.T) {
	var buf bytes.Buffer
	in := Message{
		Type:     MessageResolveOk,
		Hostname: "example.com",
		Family:   AddressFamilyV6,
		TTL:      60,
		Records: []AddressRecord{
			{Addr: netip.MustParseAddr("2001:db8::1")},
		},
	}
	require.NoError(t, WriteMessage(&buf, in))

	out, err := ReadMessage(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, in.Records, out.Records)
}

func TestMessageMultipleFramesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	msgs := []Message{
		{Type: MessageResolveReq, Hostname: "a.example", Family: AddressFamilyV4},
		{Type: MessageResolveReq, Hostname: "b.example", Family: AddressFamilyV6},
	}
	for _, m := range msgs {
		require.NoError(t, WriteMessage(&buf, m))
	}

	r := bufio.NewReader(&buf)
	for _, want := range msgs {
		got, err := ReadMessage(r)
		require.NoError(t, err)
		require.Equal(t, want.Hostname, got.Hostname)
	}
}

func TestWriteMessageTruncatesOversizedResolveOk(t *testing.T) {
	records := make([]AddressRecord, 1<<18)
	for i := range records {
		records[i] = AddressRecord{Addr: netip.AddrFrom4([4]byte{192, 0, byte(i >> 8), byte(i)})}
	}
	in := Message{
		Type:     MessageResolveOk,
		Hostname: "example.com",
		Family:   AddressFamilyV4,
		TTL:      300,
		Records:  records,
	}

	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, in))

	out, err := ReadMessage(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Less(t, len(out.Records), len(records))
	require.Equal(t, records[:len(out.Records)], out.Records)
}

func TestReadMessageRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	lenPrefix := make([]byte, 4)
	for i := range lenPrefix {
		lenPrefix[i] = 0xff
	}
	buf.Write(lenPrefix)
	_, err := ReadMessage(bufio.NewReader(&buf))
	require.Error(t, err)
}
