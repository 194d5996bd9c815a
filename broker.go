package samsa

import (
	"sync/atomic"

	"github.com/cyanial/raft/labrpc"
	"github.com/cyanial/samsa/store"
)

// Broker is the master's RPC front end for producers.
type Broker struct {
	me     int
	config *Config

	proc         *Processor
	stats        *StatsManager
	storeManager *store.Manager
	link         *RPCLink
	registrar    TopicRegistrar

	dead int32 // set by Kill()
}

func (b *Broker) Put(args *PutArgs, reply *PutReply) {
	if b.killed() {
		reply.Opaque = args.Opaque
		reply.Status = StatusInternalServerError
		reply.Message = "broker is shutting down"
		reply.Outcome = OutcomeMasterAppendFailed
		return
	}

	DPrintf("[Broker %d] Put, topic=%s, partition=%d, opaque=%d -", b.me, args.Topic, args.Partition, args.Opaque)

	// the processor always answers: AppendTimeout bounds the local store
	// and SyncTimeout bounds the slave
	done := make(chan *PutReply, 1)
	b.proc.ProcessPut(args, func(r *PutReply) {
		done <- r
	})
	*reply = *<-done
}

func (b *Broker) Stats() *StatsManager {
	return b.stats
}

func (b *Broker) Stores() *store.Manager {
	return b.storeManager
}

func (b *Broker) Link() *RPCLink {
	return b.link
}

func (b *Broker) Kill() {
	atomic.StoreInt32(&b.dead, 1)
	b.link.Kill()
	if k, ok := b.registrar.(interface{ Kill() }); ok {
		k.Kill()
	}
	b.storeManager.Close()
}

func (b *Broker) killed() bool {
	return atomic.LoadInt32(&b.dead) == 1
}

//
// slave is the end of the replica named config.SlaveUrl. registrar
// announces the topics this broker writes; it is usually a
// BrokerRegistrar over a registry clerk.
// StartBroker returns once the slave has been probed.
//
func StartBroker(config *Config, slave *labrpc.ClientEnd, registrar TopicRegistrar) *Broker {
	b := &Broker{}
	b.me = config.BrokerId
	b.config = config
	b.stats = MakeStatsManager()
	b.storeManager = store.MakeManager(config.NumPartitions, config.MaxMessageSize, config.SegmentSize)
	b.link = MakeRPCLink(config)
	b.registrar = registrar

	b.link.AddSlave(config.SlaveUrl, slave)

	b.proc = MakeProcessor(config, StoresOf(b.storeManager), b.stats,
		MakeIdWorker(config.BrokerId), registrar, b.link)

	DPrintf("Init Broker: %d, slave=%s", b.me, config.SlaveUrl)

	return b
}
