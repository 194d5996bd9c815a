package samsa

import (
	"sync"
	"sync/atomic"
)

const registrarQueueSize = 128

const (
	topicPending    = 1
	topicRegistered = 2
)

// topicRegisterer is the registry clerk as seen by the registrar.
type topicRegisterer interface {
	Register(topic string, brokerId int, partitions int) bool
	Kill()
}

// BrokerRegistrar publishes the broker's topics to the registry in the
// background. A clerk serves one request at a time, so a single worker
// drains the queue.
type BrokerRegistrar struct {
	mu         sync.Mutex
	brokerId   int
	partitions int
	ck         topicRegisterer
	topics     map[string]int
	queue      chan string // closed by Kill
	done       chan struct{}

	dead int32 // set by Kill()
}

func MakeBrokerRegistrar(config *Config, ck topicRegisterer) *BrokerRegistrar {
	r := &BrokerRegistrar{}
	r.brokerId = config.BrokerId
	r.partitions = config.NumPartitions
	r.ck = ck
	r.topics = map[string]int{}
	r.queue = make(chan string, registrarQueueSize)
	r.done = make(chan struct{})

	go r.worker()

	return r
}

// RegisterTopic never blocks. A topic already registered or waiting in the
// queue is skipped; a full queue drops the topic until the next put.
func (r *BrokerRegistrar) RegisterTopic(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// dead is checked under mu, so the queue is still open here
	if r.killed() || r.topics[topic] != 0 {
		return
	}

	select {
	case r.queue <- topic:
		r.topics[topic] = topicPending
	default:
		DPrintf("[Registrar %d] queue full, drop topic %s", r.brokerId, topic)
	}
}

func (r *BrokerRegistrar) worker() {
	defer close(r.done)

	for topic := range r.queue {
		if r.killed() {
			continue
		}
		ok := r.ck.Register(topic, r.brokerId, r.partitions)

		r.mu.Lock()
		if ok {
			r.topics[topic] = topicRegistered
		} else {
			delete(r.topics, topic)
		}
		r.mu.Unlock()

		DPrintf("[Registrar %d] register topic %s - ok=%v", r.brokerId, topic, ok)
	}
}

func (r *BrokerRegistrar) Registered(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.topics[topic] == topicRegistered
}

// Kill stops the worker once its current call returns. Topics still queued
// are dropped.
func (r *BrokerRegistrar) Kill() {
	r.mu.Lock()
	if r.killed() {
		r.mu.Unlock()
		return
	}
	atomic.StoreInt32(&r.dead, 1)
	close(r.queue)
	r.mu.Unlock()

	r.ck.Kill()
}

func (r *BrokerRegistrar) killed() bool {
	return atomic.LoadInt32(&r.dead) == 1
}
