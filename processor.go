package samsa

import (
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cyanial/samsa/store"
)

type MessageStore interface {
	Append(msg *store.Message, cb store.AppendCallback)
}

type StoreManager interface {
	GetOrCreateMessageStore(topic string, partition int) (MessageStore, error)
}

// ReplicaLink carries master -> slave calls. Send must call cb exactly once;
// a transport failure arrives as a reply with a non-success status.
type ReplicaLink interface {
	IsConnected(url string) bool
	Send(url string, args *SyncArgs, cb func(reply *SyncReply))
}

// TopicRegistrar announces topics to the registry. It must not block.
type TopicRegistrar interface {
	RegisterTopic(topic string)
}

type managerStores struct {
	m *store.Manager
}

func (ms managerStores) GetOrCreateMessageStore(topic string, partition int) (MessageStore, error) {
	s, err := ms.m.GetOrCreateMessageStore(topic, partition)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func StoresOf(m *store.Manager) StoreManager {
	return managerStores{m: m}
}

// Processor runs the synchronous master-slave put: append locally, forward
// to the slave, then answer the producer once.
type Processor struct {
	config       *Config
	storeManager StoreManager
	stats        *StatsManager
	idWorker     IdGenerator
	registrar    TopicRegistrar
	link         ReplicaLink
}

func MakeProcessor(config *Config, storeManager StoreManager, stats *StatsManager,
	idWorker IdGenerator, registrar TopicRegistrar, link ReplicaLink) *Processor {

	p := &Processor{}
	p.config = config
	p.storeManager = storeManager
	p.stats = stats
	p.idWorker = idWorker
	p.registrar = registrar
	p.link = link
	return p
}

// ProcessPut returns without waiting for the append or the slave. cb is
// called exactly once, possibly from another goroutine.
func (p *Processor) ProcessPut(args *PutArgs, cb PutCallback) {
	sac := p.newSyncAppendCallback(args, cb)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Broker %d] ProcessPut panic, topic=%s, partition=%d: %v",
				p.config.BrokerId, args.Topic, args.Partition, r)
			sac.fail(OutcomeMasterAppendFailed, MsgMasterFailed)
		}
	}()

	p.stats.StatsPut(args.Topic, sac.partitionString, 1)
	p.stats.StatsMessageSize(args.Topic, sac.partitionString, len(args.Data))

	p.registerTopic(args.Topic)

	if !p.link.IsConnected(p.config.SlaveUrl) {
		DPrintf("[Broker %d] Put, topic=%s, partition=%d - Slave %s is disconnected",
			p.config.BrokerId, args.Topic, args.Partition, p.config.SlaveUrl)
		sac.fail(OutcomeSlaveUnreachable, MsgSlaveDisconnected)
		return
	}

	sac.messageId = p.idWorker.NextId()

	ms, err := p.storeManager.GetOrCreateMessageStore(args.Topic, args.Partition)
	if err != nil {
		DPrintf("[Broker %d] Put, topic=%s, partition=%d - no store: %v",
			p.config.BrokerId, args.Topic, args.Partition, err)
		sac.fail(OutcomeMasterAppendFailed, MsgMasterFailed+": "+err.Error())
		return
	}

	DPrintf("[Broker %d] Put, topic=%s, partition=%d, id=%d - appending",
		p.config.BrokerId, args.Topic, args.Partition, sac.messageId)

	msg := &store.Message{Id: sac.messageId, Flag: args.Flag, Data: args.Data}
	sac.armAppendTimeout(p.config.AppendTimeout)
	ms.Append(msg, sac.appendComplete)
}

func (p *Processor) registerTopic(topic string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Broker %d] register topic %s panic: %v", p.config.BrokerId, topic, r)
		}
	}()
	p.registrar.RegisterTopic(topic)
}

// syncAppendCallback is the state of one put in flight. appendComplete runs
// first; it is the only place the slave call is issued, so onResponse always
// sees what appendComplete wrote.
type syncAppendCallback struct {
	p               *Processor
	partition       int
	partitionString string
	args            *PutArgs
	messageId       int64
	cb              PutCallback

	location     store.Location
	masterFailed bool
	appendTimer  *time.Timer

	replied int32
}

func (p *Processor) newSyncAppendCallback(args *PutArgs, cb PutCallback) *syncAppendCallback {
	return &syncAppendCallback{
		p:               p,
		partition:       args.Partition,
		partitionString: p.config.PartitionString(args.Partition),
		args:            args,
		cb:              cb,
		location:        store.InvalidLocation,
	}
}

// armAppendTimeout answers MasterAppendFailed if the store has not called
// back within d. A late append still goes to the slave, but its answer is
// dropped by finish.
func (c *syncAppendCallback) armAppendTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	c.appendTimer = time.AfterFunc(d, func() {
		DPrintf("[Broker %d] Put, topic=%s, partition=%d, id=%d - append timed out after %v",
			c.p.config.BrokerId, c.args.Topic, c.partition, c.messageId, d)
		c.fail(OutcomeMasterAppendFailed, MsgMasterFailed)
	})
}

func (c *syncAppendCallback) appendComplete(loc store.Location) {
	defer c.recoverTo("appendComplete")

	if c.appendTimer != nil {
		c.appendTimer.Stop()
	}

	c.location = loc
	if !loc.Valid() {
		// master failure wins over any slave answer. The message is still
		// forwarded below.
		c.masterFailed = true
		DPrintf("[Broker %d] Put, topic=%s, partition=%d, id=%d - master append failed",
			c.p.config.BrokerId, c.args.Topic, c.partition, c.messageId)
	}

	syncArgs := &SyncArgs{
		Topic:     c.args.Topic,
		Partition: c.partition,
		Data:      c.args.Data,
		MessageId: c.messageId,
		Flag:      c.args.Flag,
		Opaque:    NextOpaque(),
	}
	c.p.link.Send(c.p.config.SlaveUrl, syncArgs, c.onResponse)
}

func (c *syncAppendCallback) onResponse(reply *SyncReply) {
	defer c.recoverTo("onResponse")

	if c.masterFailed {
		c.fail(OutcomeMasterAppendFailed, MsgMasterFailed)
		return
	}

	if reply == nil || reply.Status != StatusSuccess {
		if reply != nil {
			DPrintf("[Broker %d] Put, topic=%s, partition=%d, id=%d - slave answered %d %s",
				c.p.config.BrokerId, c.args.Topic, c.partition, c.messageId, reply.Status, reply.Message)
		}
		c.fail(OutcomeSlaveAppendFailed, MsgSlaveFailed)
		return
	}

	c.finish(&PutReply{
		Status: StatusSuccess,
		Message: strconv.FormatInt(c.messageId, 10) + " " +
			strconv.Itoa(c.partition) + " " +
			strconv.FormatInt(c.location.Offset, 10),
		Outcome:   OutcomeSuccess,
		MessageId: c.messageId,
		Partition: c.partition,
		Offset:    c.location.Offset,
	})
}

// recoverTo turns a panic in a continuation into the failure reply the put
// would have had at that point.
func (c *syncAppendCallback) recoverTo(where string) {
	if r := recover(); r != nil {
		log.Printf("[Broker %d] %s panic, topic=%s, partition=%d, id=%d: %v",
			c.p.config.BrokerId, where, c.args.Topic, c.partition, c.messageId, r)
		if c.masterFailed {
			c.fail(OutcomeMasterAppendFailed, MsgMasterFailed)
		} else {
			c.fail(OutcomeSlaveAppendFailed, MsgSlaveFailed)
		}
	}
}

func (c *syncAppendCallback) fail(outcome Outcome, message string) {
	c.finish(&PutReply{
		Status:  StatusInternalServerError,
		Message: message,
		Outcome: outcome,
	})
}

func (c *syncAppendCallback) finish(reply *PutReply) {
	if !atomic.CompareAndSwapInt32(&c.replied, 0, 1) {
		DPrintf("[Broker %d] Put, topic=%s, partition=%d, id=%d - already answered, drop %s",
			c.p.config.BrokerId, c.args.Topic, c.partition, c.messageId, reply.Outcome)
		return
	}

	reply.Opaque = c.args.Opaque
	if reply.Outcome != OutcomeSuccess {
		c.p.stats.StatsPutFailed(c.args.Topic, c.partitionString, 1)
	}

	DPrintf("[Broker %d] Put, topic=%s, partition=%d, id=%d - %s",
		c.p.config.BrokerId, c.args.Topic, c.partition, c.messageId, reply.Outcome)

	if c.cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Broker %d] put callback panic, topic=%s: %v", c.p.config.BrokerId, c.args.Topic, r)
		}
	}()
	c.cb(reply)
}
