package authoritative

// Production-ready authoritative plugin for a DNS server.
// - Longest-suffix zone matching over a set of loaded qpdb zones
// - AA/RA flags, NXDOMAIN/NODATA handling with SOA in Authority
// - Authority NS and Additional glue records via the zone's glue cache
// - AXFR via a full-zone walk
// - Zone file loader via the zonedb load pipeline (github.com/miekg/dns
//   NewZoneParser under the hood)

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/miekg/dns"

	"qpdb/internal/dname"
	"qpdb/internal/plugins"
	"qpdb/internal/zonedb"
)

// AuthoritativePlugin answers queries out of a set of loaded zonedb
// databases, one per zone origin. It is thread-safe: zones load and
// reload independently of query handling via the MVCC Handle each
// lookup opens.
type AuthoritativePlugin struct {
	mu    sync.RWMutex
	zones map[string]*zonedb.DB // key: lowercased FQDN origin

	opts zonedb.Options
}

// New creates an AuthoritativePlugin with no zones loaded. Call
// LoadZone for each zone file to serve.
func New() *AuthoritativePlugin {
	return &AuthoritativePlugin{
		zones: make(map[string]*zonedb.DB),
	}
}

func (p *AuthoritativePlugin) Name() string { return "Authoritative" }

// findZone implements longest-suffix match. qName must be FQDN.
func (p *AuthoritativePlugin) findZone(qName string) (*zonedb.DB, bool) {
	q := dns.Fqdn(strings.ToLower(qName))
	p.mu.RLock()
	defer p.mu.RUnlock()

	var best *zonedb.DB
	var bestLen int
	for origin, db := range p.zones {
		if strings.HasSuffix(q, origin) && len(origin) > bestLen {
			best, bestLen = db, len(origin)
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// Execute handles incoming queries. It returns nil to allow the chain
// to continue when not authoritative for the qname. When authoritative
// it writes a reply and sets ctx.Stop to halt further processing.
func (p *AuthoritativePlugin) Execute(ctx *plugins.PluginContext, msg *dns.Msg) error {
	if len(msg.Question) == 0 {
		return nil
	}
	q := msg.Question[0]
	db, ok := p.findZone(q.Name)
	if !ok {
		return nil
	}

	qname, err := dname.New(q.Name)
	if err != nil {
		return nil
	}

	log.Printf("[%s] authoritative handling for %s (qtype=%d)", p.Name(), q.Name, q.Qtype)

	h := db.Current()
	defer h.Close(false)

	if q.Qtype == dns.TypeAXFR {
		p.handleAXFR(ctx, msg, db, h)
		ctx.Stop = true
		return nil
	}

	res := new(dns.Msg)
	res.SetReply(msg)
	res.Authoritative = true
	res.RecursionAvailable = false

	fr := db.Find(qname, q.Qtype, h.Version(), 0)
	switch fr.Result {
	case zonedb.Success:
		p.appendFound(res, fr)
		p.addAuthorityAndGlue(res, db, h)
		p.addExtraRecords(res, db, h)

	case zonedb.ResultCNAME:
		p.appendFound(res, fr)
		p.followCname(res, db, h, q, fr.Found, 0)

	case zonedb.ResultDNAME:
		p.appendFound(res, fr)

	case zonedb.Delegation, zonedb.Glue, zonedb.ZoneCut:
		res.Authoritative = false
		if fr.Found != nil {
			if rrs, err := fr.Found.Slab.RRs(fr.FoundName.String()); err == nil {
				res.Ns = append(res.Ns, rrs...)
			}
			p.addGlueForNS(res, db, h, fr.Found)
		}

	case zonedb.NXDomain:
		res.Rcode = dns.RcodeNameError
		p.addSOAAuthority(res, db, h)
		p.addNsec(res, fr)

	case zonedb.NXRRset, zonedb.EmptyName, zonedb.EmptyWild:
		res.Rcode = dns.RcodeSuccess
		p.addSOAAuthority(res, db, h)
		p.addNsec(res, fr)

	default:
		res.Rcode = dns.RcodeServerFailure
	}

	ctx.ResponseWriter.WriteMsg(res)
	ctx.Stop = true
	return nil
}

func (p *AuthoritativePlugin) appendFound(res *dns.Msg, fr *zonedb.FindResult) {
	if fr.Found == nil {
		return
	}
	if rrs, err := fr.Found.Slab.RRs(fr.FoundName.String()); err == nil {
		res.Answer = append(res.Answer, rrs...)
	}
	if fr.FoundSig != nil {
		if sigs, err := fr.FoundSig.Slab.RRs(fr.FoundName.String()); err == nil {
			res.Answer = append(res.Answer, sigs...)
		}
	}
}

func (p *AuthoritativePlugin) addNsec(res *dns.Msg, fr *zonedb.FindResult) {
	if fr.NsecHeader == nil {
		return
	}
	owner := fr.NsecHeader.Owner().String()
	if rrs, err := fr.NsecHeader.Slab.RRs(owner); err == nil {
		res.Ns = append(res.Ns, rrs...)
	}
	if fr.NsecSig != nil {
		if sigs, err := fr.NsecSig.Slab.RRs(owner); err == nil {
			res.Ns = append(res.Ns, sigs...)
		}
	}
}

const maxCnameFollows = 5

// followCname chases a CNAME within the same zone only: a target
// outside this zone's origin belongs to whatever zone (or upstream)
// the surrounding server resolves it against, not this plugin.
func (p *AuthoritativePlugin) followCname(res *dns.Msg, db *zonedb.DB, h *zonedb.Handle, q dns.Question, cname *zonedb.Header, depth int) {
	if depth >= maxCnameFollows || cname == nil {
		return
	}
	rrs, err := cname.Slab.RRs(q.Name)
	if err != nil || len(rrs) == 0 {
		return
	}
	target, ok := rrs[0].(*dns.CNAME)
	if !ok {
		return
	}
	targetName, err := dname.New(target.Target)
	if err != nil || !dname.IsSubdomain(targetName, db.Origin()) {
		return
	}

	fr := db.Find(targetName, q.Qtype, h.Version(), 0)
	switch fr.Result {
	case zonedb.Success:
		p.appendFound(res, fr)
	case zonedb.ResultCNAME:
		p.appendFound(res, fr)
		p.followCname(res, db, h, q, fr.Found, depth+1)
	}
}

// handleAXFR streams the zone's current version one record at a time.
func (p *AuthoritativePlugin) handleAXFR(ctx *plugins.PluginContext, msg *dns.Msg, db *zonedb.DB, h *zonedb.Handle) {
	origin := db.Origin()
	log.Println("Starting AXFR for zone:", origin)
	tr := new(dns.Transfer)
	ch := make(chan *dns.Envelope)

	go func() {
		defer close(ch)

		var soa dns.RR
		var records []dns.RR
		for _, n := range db.AllNodes() {
			for _, hdr := range db.VisibleHeaders(n, h.Version()) {
				rrs, err := hdr.Slab.RRs(n.Name.String())
				if err != nil {
					continue
				}
				for _, rr := range rrs {
					if rr.Header().Rrtype == dns.TypeSOA {
						soa = rr
						continue
					}
					records = append(records, rr)
				}
			}
		}
		if soa == nil {
			log.Printf("AXFR failed: SOA record not found for zone %s", origin)
			return
		}
		sort.Slice(records, func(i, j int) bool {
			return records[i].Header().Name < records[j].Header().Name
		})

		ch <- &dns.Envelope{RR: []dns.RR{soa}}
		for _, r := range records {
			ch <- &dns.Envelope{RR: []dns.RR{r}}
		}
		ch <- &dns.Envelope{RR: []dns.RR{soa}}
	}()

	if err := tr.Out(ctx.ResponseWriter, msg, ch); err != nil {
		log.Printf("AXFR transfer failed for zone %s: %v", origin, err)
	}
	log.Println("AXFR handler finished for zone:", origin)
}

// addAuthorityAndGlue populates Authority with the zone's NS records
// and Additional with their glue, via the zone's own glue cache.
func (p *AuthoritativePlugin) addAuthorityAndGlue(res *dns.Msg, db *zonedb.DB, h *zonedb.Handle) {
	fr := db.Find(db.Origin(), dns.TypeNS, h.Version(), 0)
	if fr.Found == nil {
		return
	}
	if rrs, err := fr.Found.Slab.RRs(db.Origin().String()); err == nil {
		res.Ns = append(res.Ns, rrs...)
	}
	p.addGlueForNS(res, db, h, fr.Found)
}

func (p *AuthoritativePlugin) addGlueForNS(res *dns.Msg, db *zonedb.DB, h *zonedb.Handle, nsHeader *zonedb.Header) {
	gl, err := db.GlueFor(nsHeader, h.Version())
	if err != nil {
		log.Printf("glue lookup failed: %v", err)
		return
	}
	for _, rec := range gl.Records {
		if rec.A != nil {
			if rrs, err := rec.A.RRs(rec.Name.String()); err == nil {
				res.Extra = append(res.Extra, rrs...)
			}
		}
		if rec.AAAA != nil {
			if rrs, err := rec.AAAA.RRs(rec.Name.String()); err == nil {
				res.Extra = append(res.Extra, rrs...)
			}
		}
	}
}

// addExtraRecords adds A/AAAA records for MX and SRV answers to Extra.
func (p *AuthoritativePlugin) addExtraRecords(res *dns.Msg, db *zonedb.DB, h *zonedb.Handle) {
	for _, rr := range res.Answer {
		var target string
		switch v := rr.(type) {
		case *dns.MX:
			target = v.Mx
		case *dns.SRV:
			target = v.Target
		}
		if target == "" {
			continue
		}
		targetName, err := dname.New(target)
		if err != nil || !dname.IsSubdomain(targetName, db.Origin()) {
			continue
		}
		if a := db.Find(targetName, dns.TypeA, h.Version(), 0); a.Found != nil {
			if rrs, err := a.Found.Slab.RRs(target); err == nil {
				res.Extra = append(res.Extra, rrs...)
			}
		}
		if aaaa := db.Find(targetName, dns.TypeAAAA, h.Version(), 0); aaaa.Found != nil {
			if rrs, err := aaaa.Found.Slab.RRs(target); err == nil {
				res.Extra = append(res.Extra, rrs...)
			}
		}
	}
}

// addSOAAuthority sets SOA in Authority (NXDOMAIN and NODATA).
func (p *AuthoritativePlugin) addSOAAuthority(res *dns.Msg, db *zonedb.DB, h *zonedb.Handle) {
	fr := db.Find(db.Origin(), dns.TypeSOA, h.Version(), 0)
	if fr.Found == nil {
		return
	}
	if rrs, err := fr.Found.Slab.RRs(db.Origin().String()); err == nil {
		res.Ns = append(res.Ns, rrs...)
	}
}

// LoadZone parses a zone file via the zonedb load pipeline and
// installs it, replacing any previously loaded zone of the same
// origin.
func (p *AuthoritativePlugin) LoadZone(zoneFile string) error {
	f, err := os.Open(zoneFile)
	if err != nil {
		return err
	}
	defer f.Close()

	origin, err := detectOrigin(f)
	if err != nil {
		return err
	}
	origin = dns.Fqdn(strings.ToLower(origin))
	o, err := dname.New(origin)
	if err != nil {
		return fmt.Errorf("invalid zone origin %q: %w", origin, err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	db := zonedb.Create(o, p.opts)
	if err := db.LoadZoneFile(f, origin); err != nil {
		return fmt.Errorf("loading zone %s: %w", origin, err)
	}

	p.mu.Lock()
	p.zones[origin] = db
	p.mu.Unlock()

	log.Printf("Loaded zone %s (%d owner names)", origin, db.NodeCount())
	return nil
}

// detectOrigin scans the beginning of a zone file for $ORIGIN; if not
// found, returns an error.
func detectOrigin(r io.Reader) (string, error) {
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if strings.HasPrefix(line, "$ORIGIN") {
			parts := strings.Fields(line)
			if len(parts) >= 2 {
				return parts[1], nil
			}
			return "", errors.New("malformed $ORIGIN line")
		}
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
	}
	if err := s.Err(); err != nil {
		return "", err
	}
	return "", errors.New("$ORIGIN not found in zone file")
}

// GetZoneNames returns the origins of every loaded zone, sorted.
func (p *AuthoritativePlugin) GetZoneNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	res := make([]string, 0, len(p.zones))
	for n := range p.zones {
		res = append(res, n)
	}
	sort.Strings(res)
	return res
}

// ZoneDB returns the backing zonedb.DB for a loaded zone, for callers
// (e.g. a notify handler, a reload command) that need direct access to
// the writer/version machinery this plugin doesn't expose.
func (p *AuthoritativePlugin) ZoneDB(zoneName string) (*zonedb.DB, bool) {
	zn := dns.Fqdn(strings.ToLower(zoneName))
	p.mu.RLock()
	defer p.mu.RUnlock()
	db, ok := p.zones[zn]
	return db, ok
}
