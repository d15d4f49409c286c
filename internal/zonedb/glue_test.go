package zonedb

import (
	"strings"
	"testing"

	"github.com/miekg/dns"

	"qpdb/internal/dname"
)

func TestGlueForComputesAndMemoizes(t *testing.T) {
	o := dname.MustNew("example.")
	db := Create(o, Options{})
	err := db.LoadZoneFile(strings.NewReader(`
example.     3600 IN SOA ns1.example. hostmaster.example. 1 3600 600 604800 3600
example.     3600 IN NS  ns1.example.
ns1.example. 3600 IN A   192.0.2.1
ns1.example. 3600 IN AAAA 2001:db8::1
`), "example.")
	if err != nil {
		t.Fatalf("LoadZoneFile: %v", err)
	}

	h := db.Current()
	defer h.Close(false)

	res := db.Find(o, dns.TypeNS, h.Version(), GlueOK)
	if res.Found == nil {
		t.Fatalf("expected an NS header at the origin, got %+v", res)
	}

	gl, err := db.GlueFor(res.Found, h.Version())
	if err != nil {
		t.Fatalf("GlueFor: %v", err)
	}
	if len(gl.Records) != 1 {
		t.Fatalf("expected one glue record, got %d", len(gl.Records))
	}
	rec := gl.Records[0]
	if rec.A == nil || rec.AAAA == nil {
		t.Fatalf("expected both A and AAAA glue, got %+v", rec)
	}

	hits, misses := db.stats.GlueCacheStats()
	if misses != 1 {
		t.Fatalf("misses = %d, want 1", misses)
	}

	gl2, err := db.GlueFor(res.Found, h.Version())
	if err != nil {
		t.Fatalf("second GlueFor: %v", err)
	}
	if gl2 != gl {
		t.Fatal("expected memoized glue list to be returned on second call")
	}
	hits, misses = db.stats.GlueCacheStats()
	if hits != 1 || misses != 1 {
		t.Fatalf("hits=%d misses=%d, want 1/1", hits, misses)
	}
}

func TestGlueNoneForAddressless(t *testing.T) {
	o := dname.MustNew("example.")
	db := Create(o, Options{})
	err := db.LoadZoneFile(strings.NewReader(`
example. 3600 IN SOA ns1.other. hostmaster.example. 1 3600 600 604800 3600
example. 3600 IN NS  ns1.other.
`), "example.")
	if err != nil {
		t.Fatalf("LoadZoneFile: %v", err)
	}
	h := db.Current()
	defer h.Close(false)

	res := db.Find(o, dns.TypeNS, h.Version(), GlueOK)
	gl, err := db.GlueFor(res.Found, h.Version())
	if err != nil {
		t.Fatalf("GlueFor: %v", err)
	}
	if len(gl.Records) != 1 {
		t.Fatalf("expected one (addressless) glue record, got %d", len(gl.Records))
	}
	if gl.Records[0].A != nil || gl.Records[0].AAAA != nil {
		t.Fatalf("expected no A/AAAA for an out-of-zone NS target with no address records, got %+v", gl.Records[0])
	}
}
