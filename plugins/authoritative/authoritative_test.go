package authoritative

import (
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/miekg/dns"

	"qpdb/internal/plugins"
)

// completeMockResponseWriter implements the full dns.ResponseWriter
// interface to prevent panics in tests that use dns.Transfer.
type completeMockResponseWriter struct {
	conn        net.Conn
	writtenMsgs []*dns.Msg
}

func (m *completeMockResponseWriter) LocalAddr() net.Addr {
	if m.conn != nil {
		return m.conn.LocalAddr()
	}
	return &net.IPAddr{IP: net.ParseIP("127.0.0.1")}
}
func (m *completeMockResponseWriter) RemoteAddr() net.Addr {
	if m.conn != nil {
		return m.conn.RemoteAddr()
	}
	return &net.IPAddr{IP: net.ParseIP("127.0.0.1")}
}
func (m *completeMockResponseWriter) WriteMsg(msg *dns.Msg) error {
	m.writtenMsgs = append(m.writtenMsgs, msg)
	if m.conn != nil {
		out, err := msg.Pack()
		if err != nil {
			return err
		}
		lenBuf := []byte{byte(len(out) >> 8), byte(len(out))}
		if _, err := m.conn.Write(lenBuf); err != nil {
			return err
		}
		if _, err := m.conn.Write(out); err != nil {
			return err
		}
	}
	return nil
}
func (m *completeMockResponseWriter) Write(b []byte) (int, error) {
	if m.conn != nil {
		lenBuf := []byte{byte(len(b) >> 8), byte(len(b))}
		if _, err := m.conn.Write(lenBuf); err != nil {
			return 0, err
		}
		return m.conn.Write(b)
	}
	return len(b), nil
}
func (m *completeMockResponseWriter) Close() error {
	if m.conn != nil {
		return m.conn.Close()
	}
	return nil
}
func (m *completeMockResponseWriter) TsigStatus() error      { return nil }
func (m *completeMockResponseWriter) TsigTimersOnly(b bool)  {}
func (m *completeMockResponseWriter) Hijack()                {}

func writeZoneFile(t *testing.T, contents string) string {
	t.Helper()
	f, err := os.CreateTemp("", "zone-*.db")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	if _, err := f.WriteString(contents); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })
	return f.Name()
}

const testZone = `$ORIGIN example.com.
example.com.     3600 IN SOA ns1.example.com. hostmaster.example.com. 2023010101 7200 3600 1209600 3600
example.com.     3600 IN NS  ns1.example.com.
ns1.example.com. 3600 IN A   192.0.2.1
www.example.com. 300  IN A   1.2.3.4
example.com.     600  IN MX 10 mail.example.com.
mail.example.com. 300 IN A  1.2.3.5
`

func newLoadedPlugin(t *testing.T) *AuthoritativePlugin {
	t.Helper()
	p := New()
	if err := p.LoadZone(writeZoneFile(t, testZone)); err != nil {
		t.Fatalf("LoadZone: %v", err)
	}
	return p
}

func TestFindZoneLongestSuffix(t *testing.T) {
	p := newLoadedPlugin(t)
	if _, ok := p.findZone("www.example.com."); !ok {
		t.Fatal("expected a zone match for www.example.com.")
	}
	if _, ok := p.findZone("other.net."); ok {
		t.Fatal("expected no zone match for other.net.")
	}
}

func TestExecuteAnswersA(t *testing.T) {
	p := newLoadedPlugin(t)
	w := &completeMockResponseWriter{}
	req := new(dns.Msg)
	req.SetQuestion("www.example.com.", dns.TypeA)
	ctx := plugins.NewPluginContext()
	ctx.ResponseWriter = w

	if err := p.Execute(ctx, req); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !ctx.Stop {
		t.Fatal("expected ctx.Stop after an authoritative answer")
	}
	if len(w.writtenMsgs) != 1 {
		t.Fatalf("expected one written message, got %d", len(w.writtenMsgs))
	}
	res := w.writtenMsgs[0]
	if !res.Authoritative {
		t.Fatal("expected AA set")
	}
	if len(res.Answer) != 1 || res.Answer[0].Header().Rrtype != dns.TypeA {
		t.Fatalf("expected one A record, got %+v", res.Answer)
	}
	// Additional-section handling for MX answers is checked by
	// TestExecuteMXPullsExtra.
}

func TestExecuteMXPullsExtra(t *testing.T) {
	p := newLoadedPlugin(t)
	w := &completeMockResponseWriter{}
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeMX)
	ctx := plugins.NewPluginContext()
	ctx.ResponseWriter = w

	if err := p.Execute(ctx, req); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	res := w.writtenMsgs[0]
	var foundMailA bool
	for _, rr := range res.Extra {
		if a, ok := rr.(*dns.A); ok && a.Hdr.Name == "mail.example.com." {
			foundMailA = true
		}
	}
	if !foundMailA {
		t.Fatalf("expected mail.example.com.'s A record in Extra, got %+v", res.Extra)
	}
}

func TestExecuteNXDomain(t *testing.T) {
	p := newLoadedPlugin(t)
	w := &completeMockResponseWriter{}
	req := new(dns.Msg)
	req.SetQuestion("nope.example.com.", dns.TypeA)
	ctx := plugins.NewPluginContext()
	ctx.ResponseWriter = w

	if err := p.Execute(ctx, req); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	res := w.writtenMsgs[0]
	if res.Rcode != dns.RcodeNameError {
		t.Fatalf("Rcode = %v, want NXDOMAIN", res.Rcode)
	}
	var foundSOA bool
	for _, rr := range res.Ns {
		if rr.Header().Rrtype == dns.TypeSOA {
			foundSOA = true
		}
	}
	if !foundSOA {
		t.Fatal("expected SOA in Authority on NXDOMAIN")
	}
}

func TestExecuteNotAuthoritativeReturnsNil(t *testing.T) {
	p := newLoadedPlugin(t)
	w := &completeMockResponseWriter{}
	req := new(dns.Msg)
	req.SetQuestion("www.other.net.", dns.TypeA)
	ctx := plugins.NewPluginContext()
	ctx.ResponseWriter = w

	if err := p.Execute(ctx, req); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if ctx.Stop {
		t.Fatal("expected the chain to continue for an out-of-zone name")
	}
	if len(w.writtenMsgs) != 0 {
		t.Fatal("expected no reply written for an out-of-zone name")
	}
}

func TestAXFR(t *testing.T) {
	p := newLoadedPlugin(t)
	db, ok := p.ZoneDB("example.com.")
	if !ok {
		t.Fatal("expected example.com. to be loaded")
	}

	clientConn, serverConn := net.Pipe()
	w := &completeMockResponseWriter{conn: serverConn}
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeAXFR)
	ctx := plugins.NewPluginContext()
	ctx.ResponseWriter = w

	h := db.Current()
	defer h.Close(false)

	var receivedRecords []dns.RR
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer serverConn.Close()
		p.handleAXFR(ctx, req, db, h)
	}()

	go func() {
		defer wg.Done()
		defer clientConn.Close()
		for {
			lenBuf := make([]byte, 2)
			if _, err := io.ReadFull(clientConn, lenBuf); err != nil {
				break
			}
			msgLen := int(lenBuf[0])<<8 | int(lenBuf[1])
			msgBuf := make([]byte, msgLen)
			if _, err := io.ReadFull(clientConn, msgBuf); err != nil {
				break
			}
			msg := new(dns.Msg)
			if err := msg.Unpack(msgBuf); err != nil {
				break
			}
			receivedRecords = append(receivedRecords, msg.Answer...)
		}
	}()

	wg.Wait()

	if len(receivedRecords) < 2 {
		t.Fatalf("expected at least SOA...SOA, got %d records", len(receivedRecords))
	}
	if _, ok := receivedRecords[0].(*dns.SOA); !ok {
		t.Fatal("first AXFR record must be the SOA")
	}
	if _, ok := receivedRecords[len(receivedRecords)-1].(*dns.SOA); !ok {
		t.Fatal("last AXFR record must be the SOA")
	}

	var foundA, foundMX, foundNS bool
	for _, rr := range receivedRecords {
		switch rr.Header().Rrtype {
		case dns.TypeA:
			foundA = true
		case dns.TypeMX:
			foundMX = true
		case dns.TypeNS:
			foundNS = true
		}
	}
	if !foundA || !foundMX || !foundNS {
		t.Fatalf("missing expected record types in AXFR stream (A=%v MX=%v NS=%v)", foundA, foundMX, foundNS)
	}
}

func TestLoadZoneRejectsMissingOrigin(t *testing.T) {
	p := New()
	path := writeZoneFile(t, "example.com. 3600 IN A 1.2.3.4\n")
	if err := p.LoadZone(path); err == nil {
		t.Fatal("expected an error for a zone file with no $ORIGIN")
	}
}

func TestGetZoneNames(t *testing.T) {
	p := newLoadedPlugin(t)
	names := p.GetZoneNames()
	if len(names) != 1 || !strings.EqualFold(names[0], "example.com.") {
		t.Fatalf("GetZoneNames() = %v, want [example.com.]", names)
	}
}
