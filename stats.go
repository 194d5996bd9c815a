package samsa

import (
	"sync"
	"sync/atomic"
)

// TopicStats holds the counters of one topic, or of one topic partition.
type TopicStats struct {
	Put          int64
	PutFailed    int64
	MessageBytes int64
}

// StatsManager keeps the broker's put counters.
type StatsManager struct {
	cmdPut       int64
	cmdPutFailed int64
	messageBytes int64

	mu         sync.Mutex
	topics     map[string]*TopicStats
	partitions map[string]*TopicStats // keyed by topic and "brokerId-partition"
}

func MakeStatsManager() *StatsManager {
	sm := &StatsManager{}
	sm.topics = map[string]*TopicStats{}
	sm.partitions = map[string]*TopicStats{}
	return sm
}

func (sm *StatsManager) topic(topic string) *TopicStats {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ts, has := sm.topics[topic]
	if !has {
		ts = &TopicStats{}
		sm.topics[topic] = ts
	}
	return ts
}

func (sm *StatsManager) partition(topic string, partitionString string) *TopicStats {
	key := topic + "@" + partitionString
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ps, has := sm.partitions[key]
	if !has {
		ps = &TopicStats{}
		sm.partitions[key] = ps
	}
	return ps
}

func (sm *StatsManager) StatsPut(topic string, partitionString string, n int) {
	atomic.AddInt64(&sm.cmdPut, int64(n))
	atomic.AddInt64(&sm.topic(topic).Put, int64(n))
	atomic.AddInt64(&sm.partition(topic, partitionString).Put, int64(n))
}

func (sm *StatsManager) StatsPutFailed(topic string, partitionString string, n int) {
	DPrintf("[Stats] put failed, topic=%s, partition=%s", topic, partitionString)
	atomic.AddInt64(&sm.cmdPutFailed, int64(n))
	atomic.AddInt64(&sm.topic(topic).PutFailed, int64(n))
	atomic.AddInt64(&sm.partition(topic, partitionString).PutFailed, int64(n))
}

func (sm *StatsManager) StatsMessageSize(topic string, partitionString string, size int) {
	atomic.AddInt64(&sm.messageBytes, int64(size))
	atomic.AddInt64(&sm.topic(topic).MessageBytes, int64(size))
	atomic.AddInt64(&sm.partition(topic, partitionString).MessageBytes, int64(size))
}

func (sm *StatsManager) CmdPut() int64 {
	return atomic.LoadInt64(&sm.cmdPut)
}

func (sm *StatsManager) CmdPutFailed() int64 {
	return atomic.LoadInt64(&sm.cmdPutFailed)
}

func (sm *StatsManager) MessageBytes() int64 {
	return atomic.LoadInt64(&sm.messageBytes)
}

// Topic returns a copy of the counters of one topic.
func (sm *StatsManager) Topic(topic string) TopicStats {
	return sm.topic(topic).load()
}

// Partition returns a copy of the counters of one topic partition, named
// by its partition string.
func (sm *StatsManager) Partition(topic string, partitionString string) TopicStats {
	return sm.partition(topic, partitionString).load()
}

func (ts *TopicStats) load() TopicStats {
	return TopicStats{
		Put:          atomic.LoadInt64(&ts.Put),
		PutFailed:    atomic.LoadInt64(&ts.PutFailed),
		MessageBytes: atomic.LoadInt64(&ts.MessageBytes),
	}
}
