package store

import (
	"strconv"
	"sync"
)

const DefaultSegmentSize = 4 * 1024 * 1024

// Manager owns the message stores of one broker, one per topic partition.
type Manager struct {
	mu sync.Mutex

	numPartitions  int
	maxMessageSize int
	segmentSize    int

	stores   map[string]*MessageStore
	segments map[string]*Segments
	closed   bool
}

// segmentSize <= 0 means DefaultSegmentSize.
func MakeManager(numPartitions int, maxMessageSize int, segmentSize int) *Manager {
	if segmentSize <= 0 {
		segmentSize = DefaultSegmentSize
	}
	m := &Manager{}
	m.numPartitions = numPartitions
	m.maxMessageSize = maxMessageSize
	m.segmentSize = segmentSize
	m.stores = map[string]*MessageStore{}
	m.segments = map[string]*Segments{}
	return m
}

func storeKey(topic string, partition int) string {
	return topic + "-" + strconv.Itoa(partition)
}

func (m *Manager) GetOrCreateMessageStore(topic string, partition int) (*MessageStore, error) {
	if topic == "" {
		return nil, ErrInvalidTopic
	}
	if partition < 0 || partition >= m.numPartitions {
		return nil, ErrInvalidPartition
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	key := storeKey(topic, partition)
	if s, has := m.stores[key]; has {
		return s, nil
	}

	sg, has := m.segments[key]
	if !has {
		sg = MakeSegments()
		m.segments[key] = sg
	}
	s, err := OpenMessageStore(topic, partition, sg, m.maxMessageSize, m.segmentSize)
	if err != nil {
		return nil, err
	}
	m.stores[key] = s
	return s, nil
}

// GetMessageStore returns nil when the partition has never been written.
func (m *Manager) GetMessageStore(topic string, partition int) *MessageStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stores[storeKey(topic, partition)]
}

func (m *Manager) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := map[string]bool{}
	var topics []string
	for _, s := range m.stores {
		if !seen[s.topic] {
			seen[s.topic] = true
			topics = append(topics, s.topic)
		}
	}
	return topics
}

func (m *Manager) NumPartitions() int {
	return m.numPartitions
}

// Close closes every store. Persisted data survives a later Reopen.
func (m *Manager) Close() {
	m.mu.Lock()
	stores := m.stores
	m.stores = map[string]*MessageStore{}
	m.closed = true
	m.mu.Unlock()

	for _, s := range stores {
		s.Close()
	}
}

// Reopen makes a closed manager usable again. Stores are reopened lazily
// over their old segments.
func (m *Manager) Reopen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = false
}
