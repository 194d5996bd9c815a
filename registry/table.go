package registry

import (
	"sort"
	"sync"
)

// TopicTable records which brokers serve a topic and with how many
// partitions.
type TopicTable struct {
	mu     sync.Mutex
	topics map[string]map[int]int
}

func MakeTable() *TopicTable {
	tt := &TopicTable{}
	tt.topics = map[string]map[int]int{}
	return tt
}

func (tt *TopicTable) Register(topic string, brokerId int, partitions int) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	brokers, has := tt.topics[topic]
	if !has {
		brokers = map[int]int{}
		tt.topics[topic] = brokers
	}
	brokers[brokerId] = partitions
}

func (tt *TopicTable) Lookup(topic string) (brokers map[int]int, has bool) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	b, has := tt.topics[topic]
	if !has {
		return nil, false
	}
	brokers = make(map[int]int, len(b))
	for id, n := range b {
		brokers[id] = n
	}
	return brokers, true
}

func (tt *TopicTable) Topics() []string {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	topics := make([]string, 0, len(tt.topics))
	for topic := range tt.topics {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

func (tt *TopicTable) copyTopics() map[string]map[int]int {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	c := make(map[string]map[int]int, len(tt.topics))
	for topic, b := range tt.topics {
		brokers := make(map[int]int, len(b))
		for id, n := range b {
			brokers[id] = n
		}
		c[topic] = brokers
	}
	return c
}

func (tt *TopicTable) restore(topics map[string]map[int]int) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if topics == nil {
		topics = map[string]map[int]int{}
	}
	tt.topics = topics
}
