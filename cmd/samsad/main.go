package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cyanial/raft"
	"github.com/cyanial/raft/labrpc"
	"github.com/cyanial/samsa"
	"github.com/cyanial/samsa/registry"
	"github.com/cyanial/samsa/store"
)

// samsad runs a master, its slave and a three-replica topic registry on an
// in-process labrpc network, then drives producers against the master.
func main() {
	config := samsa.DefaultConfig()

	flag.IntVar(&config.BrokerId, "broker-id", config.BrokerId, "id of the master broker")
	flag.StringVar(&config.SlaveUrl, "slave-url", config.SlaveUrl, "name of the slave endpoint")
	flag.IntVar(&config.NumPartitions, "partitions", config.NumPartitions, "partitions per topic")
	flag.IntVar(&config.MaxMessageSize, "max-message-size", config.MaxMessageSize, "largest accepted payload in bytes")
	flag.DurationVar(&config.SyncTimeout, "sync-timeout", config.SyncTimeout, "how long the master waits for the slave")
	flag.IntVar(&config.SegmentSize, "segment-size", config.SegmentSize, "bytes per store segment")
	flag.DurationVar(&config.AppendTimeout, "append-timeout", config.AppendTimeout, "how long the master waits for its own store")
	flag.DurationVar(&config.HeartbeatInterval, "heartbeat", config.HeartbeatInterval, "slave probe interval")
	flag.IntVar(&config.MaxRaftState, "maxraftstate", config.MaxRaftState, "registry snapshot threshold, -1 disables")

	topic := flag.String("topic", "samsa-demo", "topic to produce to")
	producers := flag.Int("producers", 4, "concurrent producers")
	messages := flag.Int("messages", 100, "messages per producer")
	size := flag.Int("size", 1024, "payload size in bytes")
	flag.Parse()

	net := labrpc.MakeNetwork()
	defer net.Cleanup()

	regs, regEnds := startRegistry(net, 3, config.MaxRaftState)
	defer func() {
		for _, rs := range regs {
			rs.Kill()
		}
	}()

	slaveConfig := *config
	slaveConfig.BrokerId = config.BrokerId + 1
	slaveStores := store.MakeManager(slaveConfig.NumPartitions, slaveConfig.MaxMessageSize, slaveConfig.SegmentSize)
	slave := samsa.MakeSlave(&slaveConfig, slaveStores)
	defer slave.Kill()
	defer slaveStores.Close()
	slaveSrv := labrpc.MakeServer()
	slaveSrv.AddService(labrpc.MakeService(slave))
	net.AddServer(config.SlaveUrl, slaveSrv)

	slaveEnd := net.MakeEnd("master->" + config.SlaveUrl)
	net.Connect("master->"+config.SlaveUrl, config.SlaveUrl)
	net.Enable("master->"+config.SlaveUrl, true)

	registrar := samsa.MakeBrokerRegistrar(config, registry.MakeClerk(regEnds("master")))
	master := samsa.StartBroker(config, slaveEnd, registrar)
	defer master.Kill()
	masterSrv := labrpc.MakeServer()
	masterSrv.AddService(labrpc.MakeService(master))
	net.AddServer("master", masterSrv)

	payload := make([]byte, *size)
	start := time.Now()

	var wg sync.WaitGroup
	var mu sync.Mutex
	outcomes := map[samsa.Outcome]int{}
	lost := 0
	for p := 0; p < *producers; p++ {
		name := "producer-" + strconv.Itoa(p)
		end := net.MakeEnd(name)
		net.Connect(name, "master")
		net.Enable(name, true)
		pr := samsa.MakeProducer(end)

		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < *messages; i++ {
				reply, ok := pr.Put(*topic, (p+i)%config.NumPartitions, payload)
				mu.Lock()
				if !ok {
					lost++
				} else {
					outcomes[reply.Outcome]++
				}
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()
	elapsed := time.Since(start)

	stats := master.Stats()
	fmt.Printf("puts=%d failed=%d bytes=%d elapsed=%v\n",
		stats.CmdPut(), stats.CmdPutFailed(), stats.MessageBytes(), elapsed)
	for outcome, n := range outcomes {
		fmt.Printf("  %-20s %d\n", outcome, n)
	}
	if lost > 0 {
		fmt.Printf("  %-20s %d\n", "lost", lost)
	}

	ck := registry.MakeClerk(regEnds("samsad"))
	defer ck.Kill()
	brokers, has := ck.Query(*topic)
	if !has {
		// registration is best-effort and may still be in flight
		fmt.Printf("topic %s not yet in registry\n", *topic)
	} else {
		fmt.Printf("topic %s registered on brokers %v\n", *topic, brokers)
	}

	if stats.CmdPutFailed() != 0 {
		os.Exit(1)
	}
}

// startRegistry brings up n registry replicas and returns them with a
// function that makes a fresh set of client ends for a named caller.
func startRegistry(net *labrpc.Network, n int, maxraftstate int) ([]*registry.RegistryServer, func(string) []*labrpc.ClientEnd) {
	serverName := func(i int) string {
		return "registry-" + strconv.Itoa(i)
	}

	servers := make([]*registry.RegistryServer, n)
	for i := 0; i < n; i++ {
		ends := make([]*labrpc.ClientEnd, n)
		for j := 0; j < n; j++ {
			name := serverName(i) + "->" + serverName(j)
			ends[j] = net.MakeEnd(name)
			net.Connect(name, serverName(j))
			net.Enable(name, true)
		}
		servers[i] = registry.StartServer(ends, i, raft.MakePersister(), maxraftstate)

		srv := labrpc.MakeServer()
		for _, svc := range servers[i].Services() {
			srv.AddService(svc)
		}
		net.AddServer(serverName(i), srv)
	}

	clientEnds := func(caller string) []*labrpc.ClientEnd {
		ends := make([]*labrpc.ClientEnd, n)
		for j := 0; j < n; j++ {
			name := caller + "->" + serverName(j)
			ends[j] = net.MakeEnd(name)
			net.Connect(name, serverName(j))
			net.Enable(name, true)
		}
		return ends
	}

	log.Printf("registry: %d replicas up", n)
	return servers, clientEnds
}
