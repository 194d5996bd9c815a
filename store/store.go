package store

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cyanial/raft"
	"github.com/cyanial/raft/labgob"
)

var (
	ErrStoreClosed      = errors.New("store: closed")
	ErrInvalidOffset    = errors.New("store: no message at offset")
	ErrInvalidPartition = errors.New("store: invalid partition")
	ErrInvalidTopic     = errors.New("store: invalid topic")
	ErrCorruptLog       = errors.New("store: corrupt log")
)

// Location is where a message landed in the log. A negative offset means
// the append failed.
type Location struct {
	Offset int64
	Length int32
}

var InvalidLocation = Location{Offset: -1, Length: 0}

func (l Location) Valid() bool {
	return l.Offset >= 0
}

type Message struct {
	Id   int64
	Flag int32
	Data []byte
}

type AppendCallback func(loc Location)

type appendRequest struct {
	msg *Message
	cb  AppendCallback
}

// Segments is the durable side of one partition's log: one persister per
// segment, oldest first. It outlives the MessageStore that writes it.
type Segments struct {
	mu         sync.Mutex
	persisters []*raft.Persister
}

func MakeSegments() *Segments {
	return &Segments{}
}

func (sg *Segments) Len() int {
	sg.mu.Lock()
	defer sg.mu.Unlock()
	return len(sg.persisters)
}

func (sg *Segments) Persister(i int) *raft.Persister {
	sg.mu.Lock()
	defer sg.mu.Unlock()
	return sg.persisters[i]
}

func (sg *Segments) list() []*raft.Persister {
	sg.mu.Lock()
	defer sg.mu.Unlock()
	ps := make([]*raft.Persister, len(sg.persisters))
	copy(ps, sg.persisters)
	return ps
}

func (sg *Segments) add() *raft.Persister {
	sg.mu.Lock()
	defer sg.mu.Unlock()
	ps := raft.MakePersister()
	sg.persisters = append(sg.persisters, ps)
	return ps
}

// segment is a contiguous run of records starting at base. Only the active
// (last) segment keeps its bytes in memory; sealed ones read them back from
// their persister.
type segment struct {
	base      int64
	persister *raft.Persister
	offsets   []int64 // absolute start of each record, ascending
	log       []byte
}

// segmentIndex is what a segment's snapshot holds.
type segmentIndex struct {
	Base    int64
	Offsets []int64
}

// MessageStore is the append-only log of one topic partition. Appends are
// queued and written by a single appender goroutine, which runs each
// callback once the batch holding it is persisted. A batch rewrites only
// the segments it touched, so its cost is bounded by segmentSize.
type MessageStore struct {
	mu   sync.Mutex
	cond *sync.Cond

	topic     string
	partition int
	segments  *Segments

	segs  []*segment
	size  int64
	count int

	maxMessageSize int
	segmentSize    int

	queue  []appendRequest
	closed bool
	done   chan struct{}
}

// OpenMessageStore recovers whatever the segments already hold and starts
// the appender. A segment whose index does not match its data fails the
// open with ErrCorruptLog and leaves the persisted bytes alone.
func OpenMessageStore(topic string, partition int, segments *Segments, maxMessageSize int, segmentSize int) (*MessageStore, error) {
	s := &MessageStore{}
	s.cond = sync.NewCond(&s.mu)
	s.topic = topic
	s.partition = partition
	s.segments = segments
	s.maxMessageSize = maxMessageSize
	s.segmentSize = segmentSize
	s.done = make(chan struct{})

	if err := s.recover(); err != nil {
		DPrintf("[Store %s-%d] open failed: %v", topic, partition, err)
		return nil, err
	}

	go s.appender()

	DPrintf("[Store %s-%d] open, size=%d, messages=%d, segments=%d", topic, partition, s.size, s.count, len(s.segs))

	return s, nil
}

func (s *MessageStore) Topic() string {
	return s.topic
}

func (s *MessageStore) Partition() int {
	return s.partition
}

// Append never blocks on I/O. cb is called exactly once, from the appender
// goroutine, with InvalidLocation if the message could not be written.
func (s *MessageStore) Append(msg *Message, cb AppendCallback) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		go cb(InvalidLocation)
		return
	}
	s.queue = append(s.queue, appendRequest{msg: msg, cb: cb})
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *MessageStore) appender() {
	defer close(s.done)

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		batch := s.queue
		s.queue = nil
		closed := s.closed
		s.mu.Unlock()

		if closed {
			for _, req := range batch {
				req.cb(InvalidLocation)
			}
			return
		}

		s.writeBatch(batch)
	}
}

func (s *MessageStore) writeBatch(batch []appendRequest) {
	locations := make([]Location, len(batch))

	s.mu.Lock()
	touched := false
	for i, req := range batch {
		locations[i] = InvalidLocation

		if req.msg == nil || len(req.msg.Data) > s.maxMessageSize {
			DPrintf("[Store %s-%d] reject message, nil or too large", s.topic, s.partition)
			continue
		}
		record, err := encodeMessage(req.msg)
		if err != nil {
			DPrintf("[Store %s-%d] encode failed: %v", s.topic, s.partition, err)
			continue
		}

		seg := s.active()
		if seg == nil || (len(seg.log) > 0 && len(seg.log)+len(record) > s.segmentSize) {
			if touched {
				s.persist(seg)
			}
			seg = s.roll()
		}

		offset := s.size
		seg.log = append(seg.log, record...)
		seg.offsets = append(seg.offsets, offset)
		s.size += int64(len(record))
		s.count++
		touched = true
		locations[i] = Location{Offset: offset, Length: int32(len(record))}
	}
	if touched {
		s.persist(s.active())
	}
	s.mu.Unlock()

	for i, req := range batch {
		req.cb(locations[i])
	}
}

func (s *MessageStore) active() *segment {
	if len(s.segs) == 0 {
		return nil
	}
	return s.segs[len(s.segs)-1]
}

// roll seals the active segment and opens a new one at the end of the log.
// The caller has already persisted the old one.
func (s *MessageStore) roll() *segment {
	if old := s.active(); old != nil {
		old.log = nil
	}
	seg := &segment{base: s.size, persister: s.segments.add()}
	s.segs = append(s.segs, seg)
	DPrintf("[Store %s-%d] roll segment %d at %d", s.topic, s.partition, len(s.segs)-1, seg.base)
	return seg
}

func (s *MessageStore) persist(seg *segment) {
	seg.persister.SaveStateAndSnapshot(seg.log, encodeIndex(seg.base, seg.offsets))
}

// data returns the segment's bytes. Callers hold s.mu or own a copy of seg.
func (seg *segment) data() []byte {
	if seg.log != nil {
		return seg.log
	}
	return seg.persister.ReadRaftState()
}

func (seg *segment) record(data []byte, i int) (*Message, error) {
	end := seg.base + int64(len(data))
	if i+1 < len(seg.offsets) {
		end = seg.offsets[i+1]
	}
	return decodeMessage(data[seg.offsets[i]-seg.base : end-seg.base])
}

// Read returns the message starting at offset.
func (s *MessageStore) Read(offset int64) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.segs), func(i int) bool { return s.segs[i].base > offset }) - 1
	if i < 0 {
		return nil, ErrInvalidOffset
	}
	seg := s.segs[i]
	j := sort.Search(len(seg.offsets), func(j int) bool { return seg.offsets[j] >= offset })
	if j == len(seg.offsets) || seg.offsets[j] != offset {
		return nil, ErrInvalidOffset
	}
	return seg.record(seg.data(), j)
}

// Messages returns every message in log order.
func (s *MessageStore) Messages() ([]*Message, error) {
	s.mu.Lock()
	segs := make([]segment, len(s.segs))
	for i, seg := range s.segs {
		segs[i] = *seg
		segs[i].offsets = seg.offsets[:len(seg.offsets):len(seg.offsets)]
		if seg.log != nil {
			segs[i].log = seg.log[:len(seg.log):len(seg.log)]
		}
	}
	count := s.count
	s.mu.Unlock()

	msgs := make([]*Message, 0, count)
	for i := range segs {
		data := segs[i].data()
		for j := range segs[i].offsets {
			msg, err := segs[i].record(data, j)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

func (s *MessageStore) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *MessageStore) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *MessageStore) SegmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.segs)
}

// Close fails every queued append and waits for the appender to exit.
func (s *MessageStore) Close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.done
}

func (s *MessageStore) recover() error {
	for i, ps := range s.segments.list() {
		data := ps.ReadRaftState()
		index := ps.ReadSnapshot()

		seg := &segment{base: s.size, persister: ps}
		if len(data) != 0 || len(index) != 0 {
			base, offsets, err := decodeIndex(index)
			if err != nil {
				return fmt.Errorf("%w: segment %d: %v", ErrCorruptLog, i, err)
			}
			if base != s.size || !validOffsets(base, offsets, len(data)) {
				return fmt.Errorf("%w: segment %d index does not match its data", ErrCorruptLog, i)
			}
			seg.offsets = offsets
			seg.log = data
		}
		if prev := s.active(); prev != nil {
			prev.log = nil
		}
		s.segs = append(s.segs, seg)
		s.size += int64(len(data))
		s.count += len(seg.offsets)
	}
	return nil
}

func validOffsets(base int64, offsets []int64, size int) bool {
	if len(offsets) == 0 {
		return size == 0
	}
	if offsets[0] != base {
		return false
	}
	for i := 1; i < len(offsets); i++ {
		if offsets[i] <= offsets[i-1] {
			return false
		}
	}
	return offsets[len(offsets)-1] < base+int64(size)
}

func encodeMessage(msg *Message) ([]byte, error) {
	w := new(bytes.Buffer)
	e := labgob.NewEncoder(w)
	if err := e.Encode(*msg); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func decodeMessage(record []byte) (*Message, error) {
	d := labgob.NewDecoder(bytes.NewBuffer(record))
	var msg Message
	if err := d.Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func encodeIndex(base int64, offsets []int64) []byte {
	w := new(bytes.Buffer)
	e := labgob.NewEncoder(w)
	if err := e.Encode(segmentIndex{Base: base, Offsets: offsets}); err != nil {
		DPrintf("store: encode index failed: %v", err)
		return nil
	}
	return w.Bytes()
}

func decodeIndex(index []byte) (int64, []int64, error) {
	if len(index) == 0 {
		return 0, nil, errors.New("missing index")
	}
	var idx segmentIndex
	d := labgob.NewDecoder(bytes.NewBuffer(index))
	if err := d.Decode(&idx); err != nil {
		return 0, nil, err
	}
	return idx.Base, idx.Offsets, nil
}
