// Command dcbench synthesizes a DIGETNODESREQ workload against an
// in-process Coordinator, the way the teacher's benchmark/ycsb.go drives
// its transaction layer: a Zipfian or uniform key generator from
// github.com/pingcap/go-ycsb/pkg/generator picks keys, a fixed table/
// fragment layout maps them to fragments, and the resulting latencies
// are reported the way utils.Stat.Log sorts and percentiles a run's
// latency sample. This never touches the network — it is a load
// generator for exercising the DC's fragment-lookup hot path (spec §6)
// in isolation, not a client of cmd/dcnode.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/pingcap/go-ycsb/pkg/generator"

	"distcoord/coordinator"
	"distcoord/model"
	"distcoord/registry"
	"distcoord/replicastore"
	"distcoord/signal"
	"distcoord/sysfile"
	"distcoord/tablestore"
)

// keyGenerator is the common surface of generator.Zipfian and
// generator.Uniform this command needs; both satisfy it.
type keyGenerator interface {
	Next(r *rand.Rand) int64
}

func buildCoordinator(nodeCount int, dataDir1, dataDir2 string) *coordinator.Coordinator {
	nodes := make([]model.NodeID, nodeCount)
	for i := range nodes {
		nodes[i] = model.NodeID(i + 1)
	}
	addrOf := func(model.NodeID) string { return "" }

	reg := registry.New(nodes[0], 2)
	reg.RegisterFromConfig(nodes, addrOf, nodes[0])
	reg.FormNodeGroups()
	for _, n := range nodes {
		reg.MarkAlive(n)
	}

	sf := sysfile.New()
	sfStore := sysfile.NewStore(dataDir1, dataDir2)
	tStore := tablestore.NewStore(dataDir1, dataDir2)
	rs := replicastore.New(64)
	send := func(model.NodeID, coordinator.Kind, interface{}) {}

	return coordinator.New(nodes[0], reg, sf, sfStore, tStore, rs, send)
}

func buildTables(c *coordinator.Coordinator, tables, fragsPerTable, nodeCount int) {
	for t := 1; t <= tables; t++ {
		tbl := model.NewTable(model.TableID(t), fragsPerTable)
		for f := 0; f < fragsPerTable; f++ {
			primary := model.NodeID((f % nodeCount) + 1)
			frag := model.NewFragment(model.TableID(t), model.FragID(f), primary)
			frag.InsertBackup(model.NodeID((f+1)%nodeCount + 1))
			tbl.Fragments[f] = frag
		}
		c.AddTable(tbl)
	}
}

// latencies is a run's recorded sample, sorted and percentiled the way
// utils.Stat.Log sorts its latency slice before reporting.
type latencies struct {
	mu      sync.Mutex
	samples []time.Duration
}

func (l *latencies) add(d time.Duration) {
	l.mu.Lock()
	l.samples = append(l.samples, d)
	l.mu.Unlock()
}

func (l *latencies) report(elapsed time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sort.Slice(l.samples, func(i, j int) bool { return l.samples[i] < l.samples[j] })
	n := len(l.samples)
	if n == 0 {
		fmt.Println("no samples recorded")
		return
	}
	pct := func(p float64) time.Duration { return l.samples[int(float64(n-1)*p)] }
	fmt.Printf("ops=%d elapsed=%s throughput=%.0f ops/sec\n", n, elapsed, float64(n)/elapsed.Seconds())
	fmt.Printf("p50=%s p95=%s p99=%s max=%s\n", pct(0.50), pct(0.95), pct(0.99), l.samples[n-1])
}

func main() {
	tables := flag.Int("tables", 4, "number of tables to register")
	fragsPerTable := flag.Int("frags", 8, "fragments per table")
	nodes := flag.Int("nodes", 4, "cluster size")
	ops := flag.Int("ops", 100000, "number of DIGETNODESREQ lookups to issue")
	concurrency := flag.Int("concurrency", 8, "concurrent lookup goroutines")
	workload := flag.String("workload", "zipfian", "key distribution: zipfian|uniform")
	skew := flag.Float64("skew", 0.99, "zipfian skew constant (ignored for uniform)")
	flag.Parse()

	dataDir1, dataDir2 := "./dcbench-D1", "./dcbench-D2"
	c := buildCoordinator(*nodes, dataDir1, dataDir2)
	buildTables(c, *tables, *fragsPerTable, *nodes)
	go c.Queue.Run()
	defer c.Stop()

	keySpace := int64(*fragsPerTable) * 37
	var gen keyGenerator
	switch *workload {
	case "uniform":
		gen = generator.NewUniform(0, keySpace-1)
	default:
		gen = generator.NewZipfianWithRange(0, keySpace-1, *skew)
	}

	lat := &latencies{}
	var wg sync.WaitGroup
	opsPerWorker := *ops / *concurrency
	start := time.Now()
	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for i := 0; i < opsPerWorker; i++ {
				tableID := model.TableID(r.Intn(*tables) + 1)
				key := gen.Next(r)
				fragID := model.FragID(key % int64(*fragsPerTable))

				reply := make(chan coordinator.DigetNodesReply, 1)
				issued := time.Now()
				c.Queue.Post(signal.Signal{
					Kind: coordinator.KindDigetNodesReq,
					Payload: coordinator.DigetNodesReq{
						TableID: tableID,
						FragID:  fragID,
						Reply:   reply,
					},
				})
				<-reply
				lat.add(time.Since(issued))
			}
		}(int64(w) + 1)
	}
	wg.Wait()
	lat.report(time.Since(start))
}
