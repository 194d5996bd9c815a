package samsa

import (
	"sync/atomic"

	"github.com/cyanial/raft/labrpc"
)

type Producer struct {
	end    *labrpc.ClientEnd
	opaque int32
}

func MakeProducer(end *labrpc.ClientEnd) *Producer {
	pr := &Producer{}
	pr.end = end
	return pr
}

//
// send one message to the broker. ok is false when the RPC itself was
// lost; otherwise reply holds the broker's answer, whose Opaque matches the
// correlation id this call used. Put never retries: a lost reply may still
// have been written.
//
func (pr *Producer) Put(topic string, partition int, data []byte) (reply *PutReply, ok bool) {
	return pr.PutWithFlag(topic, partition, data, 0)
}

func (pr *Producer) PutWithFlag(topic string, partition int, data []byte, flag int32) (reply *PutReply, ok bool) {
	args := &PutArgs{
		Topic:     topic,
		Partition: partition,
		Data:      data,
		Flag:      flag,
		Opaque:    atomic.AddInt32(&pr.opaque, 1),
	}

	reply = &PutReply{}
	if !pr.end.Call("Broker.Put", args, reply) {
		DPrintf("[Producer] Put, topic=%s, partition=%d, opaque=%d - network failure", topic, partition, args.Opaque)
		return nil, false
	}
	return reply, true
}
