package samsa

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyanial/raft/labrpc"
)

type slaveEnd struct {
	url       string
	end       *labrpc.ClientEnd
	connected int32
}

// RPCLink is the master's connection to its slaves over labrpc. A heartbeat
// goroutine keeps the connected flag of every slave fresh; Send results
// update it too.
type RPCLink struct {
	mu     sync.Mutex
	me     int
	slaves map[string]*slaveEnd

	syncTimeout       time.Duration
	heartbeatInterval time.Duration

	dead int32 // set by Kill()
}

func MakeRPCLink(config *Config) *RPCLink {
	l := &RPCLink{}
	l.me = config.BrokerId
	l.slaves = map[string]*slaveEnd{}
	l.syncTimeout = config.SyncTimeout
	l.heartbeatInterval = config.HeartbeatInterval
	if l.heartbeatInterval <= 0 {
		l.heartbeatInterval = DefaultConfig().HeartbeatInterval
	}

	go l.heartbeat()

	return l
}

// AddSlave registers end under url and probes it once before returning.
func (l *RPCLink) AddSlave(url string, end *labrpc.ClientEnd) {
	se := &slaveEnd{url: url, end: end}
	l.mu.Lock()
	l.slaves[url] = se
	l.mu.Unlock()

	l.ping(se)
}

func (l *RPCLink) slave(url string) *slaveEnd {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.slaves[url]
}

func (l *RPCLink) IsConnected(url string) bool {
	se := l.slave(url)
	if se == nil {
		return false
	}
	return atomic.LoadInt32(&se.connected) == 1
}

// Probe pings every slave and waits for all answers.
func (l *RPCLink) Probe() {
	l.mu.Lock()
	slaves := make([]*slaveEnd, 0, len(l.slaves))
	for _, se := range l.slaves {
		slaves = append(slaves, se)
	}
	l.mu.Unlock()

	var wg sync.WaitGroup
	for _, se := range slaves {
		wg.Add(1)
		go func(se *slaveEnd) {
			defer wg.Done()
			l.ping(se)
		}(se)
	}
	wg.Wait()
}

func (l *RPCLink) ping(se *slaveEnd) bool {
	args := &PingArgs{From: l.me}
	reply := &PingReply{}
	ok := callTimeout(se.end, "Slave.Ping", args, reply, l.syncTimeout)
	l.markConnected(se, ok)
	return ok
}

func (l *RPCLink) markConnected(se *slaveEnd, ok bool) {
	var v int32
	if ok {
		v = 1
	}
	if atomic.SwapInt32(&se.connected, v) != v {
		DPrintf("[Link %d] slave %s connected=%v", l.me, se.url, ok)
	}
}

// Send forwards args to the slave at url and returns at once. cb runs
// exactly once on a link goroutine.
func (l *RPCLink) Send(url string, args *SyncArgs, cb func(reply *SyncReply)) {
	se := l.slave(url)
	if se == nil || l.killed() {
		go cb(&SyncReply{
			Opaque:  args.Opaque,
			Status:  StatusInternalServerError,
			Message: "no connection to slave " + url,
		})
		return
	}

	go func() {
		reply := &SyncReply{}
		ok := callTimeout(se.end, "Slave.Sync", args, reply, l.syncTimeout)
		l.markConnected(se, ok)

		switch {
		case !ok:
			DPrintf("[Link %d] Sync, opaque=%d - slave %s unreachable or timed out", l.me, args.Opaque, url)
			reply = &SyncReply{
				Opaque:  args.Opaque,
				Status:  StatusGatewayTimeout,
				Message: "slave " + url + " unreachable or timed out",
			}
		case reply.Opaque != args.Opaque:
			DPrintf("[Link %d] Sync, opaque=%d - reply carries opaque %d", l.me, args.Opaque, reply.Opaque)
			reply = &SyncReply{
				Opaque:  args.Opaque,
				Status:  StatusInternalServerError,
				Message: "mismatched slave reply",
			}
		}
		cb(reply)
	}()
}

func (l *RPCLink) heartbeat() {
	for !l.killed() {
		l.Probe()
		time.Sleep(l.heartbeatInterval)
	}
}

func (l *RPCLink) Kill() {
	atomic.StoreInt32(&l.dead, 1)
}

func (l *RPCLink) killed() bool {
	return atomic.LoadInt32(&l.dead) == 1
}

// callTimeout gives up after timeout. reply must not be read unless it
// returns true.
func callTimeout(end *labrpc.ClientEnd, svcMeth string, args interface{}, reply interface{}, timeout time.Duration) bool {
	done := make(chan bool, 1)
	go func() {
		done <- end.Call(svcMeth, args, reply)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ok := <-done:
		return ok
	case <-timer.C:
		return false
	}
}
