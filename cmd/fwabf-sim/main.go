// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command fwabf-sim replays PCAPs through the fwabf engine wired to
// in-memory routing and ACL collaborators, printing the policy-forwarding
// verdict for every packet. It exists to exercise the engine without a real
// FIB or ACL plugin, and to demonstrate config loading end to end.
package main

import (
	"flag"
	"log"

	"go.fwabf.dev/fwabf/internal/fwabf"
	"go.fwabf.dev/fwabf/internal/fwabfapi"
	"go.fwabf.dev/fwabf/internal/fwabfcfg"
	"go.fwabf.dev/fwabf/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "Path to HCL fwabf config file")
	pcapFile := flag.String("pcap", "", "Path to a PCAP file to replay")
	apiAddr := flag.String("api", "", "Address to serve the introspection API on (e.g. :8090); empty disables it")
	flag.Parse()

	logger := logging.New(logging.DefaultConfig())

	routing := fwabf.NewFakeRoutingTable()
	acl := fwabf.NewFakeACL()
	arc := fwabf.NewFakeFeatureArc()
	prober := &fwabf.StaticProber{Quality: fwabf.Quality{Loss: 0, Delay: 5}}

	engine := fwabf.New(fwabf.DefaultConfig(), routing, acl, arc, prober, nil, logger)
	defer engine.Stop()

	if *configPath != "" {
		cfg, err := fwabfcfg.LoadFile(*configPath)
		if err != nil {
			log.Fatalf("fwabf-sim: load config: %v", err)
		}
		if err := fwabfcfg.Apply(cfg, engine); err != nil {
			log.Fatalf("fwabf-sim: apply config: %v", err)
		}
	}

	if *apiAddr != "" {
		srv := fwabfapi.NewServer(engine, logger)
		go func() {
			if err := srv.ListenAndServe(*apiAddr); err != nil {
				logger.Warn("fwabf-sim introspection API stopped", "error", err)
			}
		}()
	}

	if *pcapFile != "" {
		replayer := NewReplayer(engine, logger)
		if err := replayer.Replay(*pcapFile); err != nil {
			log.Fatalf("fwabf-sim: replay: %v", err)
		}
		stats := replayer.Stats()
		log.Printf("processed %d packets: %d applied, %d fib-fallback, %d dropped, %d acl-miss", stats.Total, stats.Applied, stats.Fallback, stats.Dropped, stats.ACLMiss)
		return
	}

	log.Println("fwabf-sim: no -pcap given, nothing to replay")
}
