package samsa

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cyanial/samsa/store"
)

// Slave receives the messages its master forwards and writes them into its
// own stores under the master's message ids.
type Slave struct {
	brokerId     int
	storeManager *store.Manager
	timeout      time.Duration

	dead int32 // set by Kill()
}

func MakeSlave(config *Config, storeManager *store.Manager) *Slave {
	s := &Slave{}
	s.brokerId = config.BrokerId
	s.storeManager = storeManager
	s.timeout = config.SyncTimeout
	return s
}

func (s *Slave) Sync(args *SyncArgs, reply *SyncReply) {
	reply.Opaque = args.Opaque

	if s.killed() {
		reply.Status = StatusInternalServerError
		reply.Message = "slave is shutting down"
		return
	}

	DPrintf("[Slave %d] Sync, topic=%s, partition=%d, id=%d -", s.brokerId, args.Topic, args.Partition, args.MessageId)

	ms, err := s.storeManager.GetOrCreateMessageStore(args.Topic, args.Partition)
	if err != nil {
		DPrintf("[Slave %d] Sync, topic=%s, partition=%d - %v", s.brokerId, args.Topic, args.Partition, err)
		reply.Status = StatusInternalServerError
		reply.Message = err.Error()
		return
	}

	done := make(chan store.Location, 1)
	ms.Append(&store.Message{Id: args.MessageId, Flag: args.Flag, Data: args.Data}, func(loc store.Location) {
		done <- loc
	})

	select {
	case loc := <-done:
		if !loc.Valid() {
			DPrintf("[Slave %d] Sync, id=%d - append failed", s.brokerId, args.MessageId)
			reply.Status = StatusInternalServerError
			reply.Message = "Put message to slave store failed"
			return
		}
		DPrintf("[Slave %d] Sync, id=%d - OK, offset=%d", s.brokerId, args.MessageId, loc.Offset)
		reply.Status = StatusSuccess
		reply.Message = strconv.FormatInt(args.MessageId, 10) + " " +
			strconv.Itoa(args.Partition) + " " + strconv.FormatInt(loc.Offset, 10)
	case <-time.After(s.timeout):
		DPrintf("[Slave %d] Sync, id=%d - Timeout", s.brokerId, args.MessageId)
		reply.Status = StatusGatewayTimeout
		reply.Message = "slave append timeout"
	}
}

func (s *Slave) Ping(args *PingArgs, reply *PingReply) {
	reply.BrokerId = s.brokerId
}

func (s *Slave) Kill() {
	atomic.StoreInt32(&s.dead, 1)
}

func (s *Slave) killed() bool {
	return atomic.LoadInt32(&s.dead) == 1
}
