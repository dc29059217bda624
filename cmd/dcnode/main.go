// Command dcnode is the distribution-coordinator node entrypoint:
// load cluster topology, open the two-copy sysfile/tablestore, wire the
// Coordinator to a Transport, and run the dispatch loop. Grounded on the
// teacher's fc-server/main.go flag-then-dispatch shape (flag.Parse into
// package vars, then one branch into the selected role), simplified
// since a DC node has one role, not a coordinator/participant/client
// split.
package main

import (
	"flag"
	"log"
	"strconv"

	"distcoord/audit/mongosink"
	"distcoord/audit/pgsink"
	"distcoord/configs"
	"distcoord/coordinator"
	"distcoord/eventlog"
	"distcoord/model"
	"distcoord/registry"
	"distcoord/replicastore"
	"distcoord/signal"
	"distcoord/sysfile"
	"distcoord/tablestore"
)

func main() {
	configPath := flag.String("config", "dcnode.properties", "cluster topology properties file")
	flag.Parse()

	cfg, err := configs.LoadClusterConfig(*configPath)
	if err != nil {
		log.Fatalf("load cluster config: %v", err)
	}

	self := model.NodeID(cfg.OwnNodeID)
	var nodes []model.NodeID
	addrs := map[model.NodeID]string{}
	masterNodeID := self
	for _, n := range cfg.Nodes {
		id := model.NodeID(n.NodeID)
		nodes = append(nodes, id)
		addrs[id] = n.Address
		if id < masterNodeID {
			masterNodeID = id
		}
	}
	addrOf := func(id model.NodeID) string { return addrs[id] }

	reg := registry.New(self, cfg.ReplicaCount)
	reg.RegisterFromConfig(nodes, addrOf, masterNodeID)
	reg.FormNodeGroups()
	for _, id := range nodes {
		reg.MarkAlive(id)
	}

	sf := sysfile.New()
	sfStore := sysfile.NewStore(cfg.DataDir1, cfg.DataDir2)
	tStore := tablestore.NewStore(cfg.DataDir1, cfg.DataDir2)
	rs := replicastore.New(1024)

	evLog, err := eventlog.Open(cfg.DataDir1 + "/eventlog")
	if err != nil {
		log.Fatalf("open eventlog: %v", err)
	}
	defer evLog.Close()

	var c *coordinator.Coordinator
	transport := NewTransport(cfg.ListenAddress, addrOf, func(e envelope) {
		kind, from, payload := decodeEnvelope(e)
		c.Queue.Post(signal.Signal{Kind: kind, From: from, Payload: payload})
	})
	defer transport.Close()

	c = coordinator.New(self, reg, sf, sfStore, tStore, rs, transport.Send)
	c.EventLog = evLog

	if cfg.PostgresAuditDSN != "" {
		snap, err := pgsink.Open(cfg.PostgresAuditDSN)
		if err != nil {
			log.Printf("audit postgres sink disabled: %v", err)
		} else {
			defer snap.Close()
			c.AuditSnapshot = snap
		}
	}
	if cfg.MongoAuditURI != "" {
		rounds, err := mongosink.Open(cfg.MongoAuditURI)
		if err != nil {
			log.Printf("audit mongo sink disabled: %v", err)
		} else {
			defer rounds.Close()
			c.AuditRounds = rounds
		}
	}

	go transport.Run()
	log.Printf("dcnode %s listening on %s (master=%s)", strconv.FormatUint(uint64(self), 10), cfg.ListenAddress, strconv.FormatUint(uint64(masterNodeID), 10))
	c.Run()
}
