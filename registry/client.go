package registry

import (
	"crypto/rand"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyanial/raft/labrpc"
)

type Clerk struct {
	servers []*labrpc.ClientEnd

	mu       sync.Mutex
	leaderId int

	clientId    int64
	sequenceNum int64

	dead int32
}

func nrand() int64 {
	max := big.NewInt(int64(1) << 62)
	bigx, _ := rand.Int(rand.Reader, max)
	x := bigx.Int64()
	return x
}

func MakeClerk(servers []*labrpc.ClientEnd) *Clerk {

	ck := &Clerk{}

	ck.servers = servers
	ck.leaderId = 0

	ck.clientId = nrand()
	ck.sequenceNum = 0

	DPrintf("Init Clerk: %d", ck.clientId)

	return ck
}

//
// announce that brokerId serves topic with the given number of partitions.
// keeps trying until a leader commits it; returns false only if the clerk
// was killed first.
//
func (ck *Clerk) Register(topic string, brokerId int, partitions int) bool {

	args := &RegisterArgs{
		Topic:       topic,
		BrokerId:    brokerId,
		Partitions:  partitions,
		ClientId:    ck.clientId,
		SequenceNum: atomic.AddInt64(&ck.sequenceNum, 1),
	}

	leaderId := ck.currentLeader()

	for !ck.killed() {

		DPrintf("[Clerk %d, leader=%d] Register, topic=%s, broker=%d - ", ck.clientId, leaderId, topic, brokerId)

		reply := &RegisterReply{}

		if ck.servers[leaderId].Call("RegistryServer.Register", args, reply) {
			if reply.Err == OK {
				DPrintf("[Clerk %d, leader=%d] Register, topic=%s, broker=%d - OK", ck.clientId, leaderId, topic, brokerId)
				return true
			}
		}

		DPrintf("[Clerk %d, leader=%d] Register, topic=%s - Wrong Leader", ck.clientId, leaderId, topic)
		leaderId = ck.changeLeader()
		time.Sleep(Clerk_RetryInterval)
	}
	return false
}

//
// fetch the brokers serving topic, broker id -> partitions.
// has is false if the topic was never registered or the clerk was killed.
//
func (ck *Clerk) Query(topic string) (brokers map[int]int, has bool) {

	args := &QueryArgs{
		Topic:       topic,
		ClientId:    ck.clientId,
		SequenceNum: atomic.AddInt64(&ck.sequenceNum, 1),
	}

	leaderId := ck.currentLeader()

	for !ck.killed() {

		reply := &QueryReply{}

		if ck.servers[leaderId].Call("RegistryServer.Query", args, reply) {
			if reply.Err == OK {
				DPrintf("[Clerk %d, leader=%d] Query, topic=%s - OK %v", ck.clientId, leaderId, topic, reply.Brokers)
				return reply.Brokers, true
			}
			if reply.Err == ErrNoTopic {
				DPrintf("[Clerk %d, leader=%d] Query, topic=%s - No Topic", ck.clientId, leaderId, topic)
				return nil, false
			}
		}

		leaderId = ck.changeLeader()
		time.Sleep(Clerk_RetryInterval)
	}
	return nil, false
}

func (ck *Clerk) Kill() {
	atomic.StoreInt32(&ck.dead, 1)
}

func (ck *Clerk) killed() bool {
	return atomic.LoadInt32(&ck.dead) == 1
}

func (ck *Clerk) currentLeader() int {
	ck.mu.Lock()
	defer ck.mu.Unlock()
	return ck.leaderId
}

func (ck *Clerk) changeLeader() int {
	ck.mu.Lock()
	defer ck.mu.Unlock()
	ck.leaderId = (ck.leaderId + 1) % len(ck.servers)
	return ck.leaderId
}
