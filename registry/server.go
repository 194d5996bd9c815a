package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyanial/raft"
	"github.com/cyanial/raft/labgob"
	"github.com/cyanial/raft/labrpc"
)

type Op struct {
	Method      string // "Register" or "Query"
	Topic       string
	BrokerId    int
	Partitions  int
	ClientId    int64
	SequenceNum int64
}

type RegistryServer struct {
	mu      sync.Mutex
	me      int
	rf      *raft.Raft
	applyCh chan raft.ApplyMsg
	dead    int32 // set by Kill()

	maxraftstate int // snapshot if log grows this big
	persister    *raft.Persister

	table        *TopicTable
	lastApplySeq map[int64]int64
	lastApplied  int

	notifyCh map[int]chan Op
}

func (rs *RegistryServer) Register(args *RegisterArgs, reply *RegisterReply) {

	cmd := Op{
		Method:      "Register",
		Topic:       args.Topic,
		BrokerId:    args.BrokerId,
		Partitions:  args.Partitions,
		ClientId:    args.ClientId,
		SequenceNum: args.SequenceNum,
	}

	DPrintf("[Registry %d] Register, topic=%s, broker=%d -", rs.me, args.Topic, args.BrokerId)

	reply.Err = rs.startAndWait(cmd)

	DPrintf("[Registry %d] Register, topic=%s, broker=%d - %s", rs.me, args.Topic, args.BrokerId, reply.Err)
}

func (rs *RegistryServer) Query(args *QueryArgs, reply *QueryReply) {

	cmd := Op{
		Method:      "Query",
		Topic:       args.Topic,
		ClientId:    args.ClientId,
		SequenceNum: args.SequenceNum,
	}

	DPrintf("[Registry %d] Query, topic=%s -", rs.me, args.Topic)

	err := rs.startAndWait(cmd)
	if err != OK {
		reply.Err = err
		return
	}

	brokers, has := rs.table.Lookup(args.Topic)
	if !has {
		DPrintf("[Registry %d] Query, topic=%s - No Topic", rs.me, args.Topic)
		reply.Err = ErrNoTopic
		return
	}
	reply.Err = OK
	reply.Brokers = brokers
}

func (rs *RegistryServer) startAndWait(cmd Op) Err {
	if rs.killed() {
		return ErrWrongLeader
	}

	index, _, isLeader := rs.rf.Start(cmd)
	if !isLeader {
		return ErrWrongLeader
	}

	ch := make(chan Op, 1)
	rs.mu.Lock()
	rs.notifyCh[index] = ch
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		delete(rs.notifyCh, index)
		rs.mu.Unlock()
	}()

	select {
	case applied := <-ch:
		// another leader's entry took this index
		if applied.ClientId != cmd.ClientId || applied.SequenceNum != cmd.SequenceNum {
			return ErrWrongLeader
		}
		return OK
	case <-time.After(Server_Timeout):
		return ErrTimeout
	}
}

//
// the tester calls Kill() when a RegistryServer instance won't
// be needed again.
//
func (rs *RegistryServer) Kill() {
	atomic.StoreInt32(&rs.dead, 1)
	rs.rf.Kill()
}

func (rs *RegistryServer) killed() bool {
	z := atomic.LoadInt32(&rs.dead)
	return z == 1
}

func (rs *RegistryServer) applier() {
	for applyMsg := range rs.applyCh {
		if rs.killed() {
			continue
		}

		if applyMsg.SnapshotValid {
			rs.mu.Lock()
			if rs.rf.CondInstallSnapshot(applyMsg.SnapshotTerm, applyMsg.SnapshotIndex, applyMsg.Snapshot) {
				rs.installSnapshot(applyMsg.Snapshot)
				rs.lastApplied = applyMsg.SnapshotIndex
			}
			rs.mu.Unlock()
			continue
		}

		if !applyMsg.CommandValid {
			continue
		}

		rs.mu.Lock()
		if applyMsg.CommandIndex <= rs.lastApplied {
			rs.mu.Unlock()
			continue
		}
		rs.lastApplied = applyMsg.CommandIndex

		cmd, ok := applyMsg.Command.(Op)
		if ok {
			DPrintf("[Registry %d] applyMsg: m=%s, topic=%s", rs.me, cmd.Method, cmd.Topic)
			if !rs.isDuplicatedCmd(cmd.ClientId, cmd.SequenceNum) {
				if cmd.Method == "Register" {
					rs.table.Register(cmd.Topic, cmd.BrokerId, cmd.Partitions)
				}
				rs.lastApplySeq[cmd.ClientId] = cmd.SequenceNum
			}
			if ch, has := rs.notifyCh[applyMsg.CommandIndex]; has {
				select {
				case ch <- cmd:
				default:
				}
			}
		}

		var snapshot []byte
		if rs.needSnapshot() {
			snapshot = rs.createSnapshot()
		}
		rs.mu.Unlock()

		if snapshot != nil {
			rs.rf.Snapshot(applyMsg.CommandIndex, snapshot)
		}
	}
}

// Services returns the RPC services a labrpc server must host for this
// replica: the registry itself and its raft peer.
func (rs *RegistryServer) Services() []*labrpc.Service {
	return []*labrpc.Service{
		labrpc.MakeService(rs),
		labrpc.MakeService(rs.rf),
	}
}

//
// servers[] contains the ports of the set of servers that will cooperate
// via Raft to form the fault-tolerant topic registry. me is the index of
// the current server in servers[]. the registry snapshots through raft when
// the persisted raft state exceeds maxraftstate bytes; -1 disables it.
//
func StartServer(servers []*labrpc.ClientEnd, me int, persister *raft.Persister, maxraftstate int) *RegistryServer {
	labgob.Register(Op{})

	rs := &RegistryServer{}
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.me = me
	rs.maxraftstate = maxraftstate
	rs.persister = persister
	rs.table = MakeTable()
	rs.lastApplySeq = map[int64]int64{}
	rs.notifyCh = map[int]chan Op{}

	rs.installSnapshot(persister.ReadSnapshot())

	rs.applyCh = make(chan raft.ApplyMsg)
	rs.rf = raft.Make(servers, me, persister, rs.applyCh)

	go rs.applier()

	DPrintf("Init Registry: %d", rs.me)

	return rs
}
