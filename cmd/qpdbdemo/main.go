// Command qpdbdemo is the thinnest possible external caller of qpdb: it
// loads a zone file into a versioned database, serves it authoritatively
// over UDP and TCP, and exposes Prometheus metrics. It stands in for "the
// surrounding server" the zonedb package itself never implements.
package main

import (
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qpdb/internal/config"
	"qpdb/internal/metrics"
	"qpdb/internal/plugins"
	"qpdb/plugins/authoritative"
)

func main() {
	var (
		listenAddr  = flag.String("listen", "", "Address to listen on (overrides config default)")
		metricsAddr = flag.String("metrics", "", "Address to serve /metrics on (overrides config default)")
		zoneFile    = flag.String("zone", "", "Path to a zone file to load at startup")
	)
	flag.Parse()

	if *zoneFile == "" {
		log.Fatal("qpdbdemo: -zone is required")
	}

	cfg := config.NewConfig()
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	m := metrics.NewMetrics()

	auth := authoritative.New()
	if err := auth.LoadZone(*zoneFile); err != nil {
		log.Fatalf("qpdbdemo: loading %s: %v", *zoneFile, err)
	}
	log.Printf("loaded zones: %v", auth.GetZoneNames())

	pm := plugins.NewPluginManager()
	pm.Register(auth)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		log.Printf("serving metrics on %s", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Printf("metrics server error: %v", err)
		}
	}()

	dns.HandleFunc(".", func(w dns.ResponseWriter, req *dns.Msg) {
		if len(req.Question) == 0 {
			resp := new(dns.Msg)
			resp.SetRcode(req, dns.RcodeFormatError)
			w.WriteMsg(resp)
			return
		}

		m.IncrementQueries()
		m.RecordQueryType(dns.TypeToString[req.Question[0].Qtype])

		ctx := plugins.NewPluginContext()
		ctx.ResponseWriter = w
		pm.ExecutePlugins(ctx, req)

		if !ctx.Stop {
			// No plugin answered; the zone is not loaded here.
			resp := new(dns.Msg)
			resp.SetRcode(req, dns.RcodeRefused)
			w.WriteMsg(resp)
		}
	})

	var wg sync.WaitGroup

	packetConn, err := net.ListenPacket("udp", cfg.ListenAddr)
	if err != nil {
		log.Fatalf("qpdbdemo: UDP listen on %s: %v", cfg.ListenAddr, err)
	}
	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatalf("qpdbdemo: TCP listen on %s: %v", cfg.ListenAddr, err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		srv := &dns.Server{PacketConn: packetConn, UDPSize: 65535}
		if err := srv.ActivateAndServe(); err != nil {
			log.Printf("UDP server error: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		srv := &dns.Server{Listener: listener}
		if err := srv.ActivateAndServe(); err != nil {
			log.Printf("TCP server error: %v", err)
		}
	}()

	log.Printf("qpdbdemo listening on %s", cfg.ListenAddr)
	runSanityQueries(auth)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Println("shutting down...")
	packetConn.Close()
	listener.Close()
	wg.Wait()
	log.Println("stopped.")
}

// runSanityQueries logs each loaded zone's current serial, secure flag
// and node count at startup, as a smoke test independent of the network
// listeners above. It performs no lookups.
func runSanityQueries(auth *authoritative.AuthoritativePlugin) {
	for _, name := range auth.GetZoneNames() {
		db, ok := auth.ZoneDB(name)
		if !ok {
			continue
		}
		h := db.Current()
		v := h.Version()
		log.Printf("zone %s: serial=%d secure=%v nodes=%d", name, v.Serial(), v.Secure(), db.NodeCount())
		h.Close(false)
	}
}
