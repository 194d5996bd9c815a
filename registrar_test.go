package samsa

import (
	"sync"
	"testing"
	"time"
)

type fakeClerk struct {
	mu      sync.Mutex
	calls   map[string]int
	fail    map[string]bool
	block   chan struct{}
	killed  bool
	brokers map[string]int
}

func newFakeClerk() *fakeClerk {
	return &fakeClerk{
		calls:   map[string]int{},
		fail:    map[string]bool{},
		brokers: map[string]int{},
	}
}

func (f *fakeClerk) Register(topic string, brokerId int, partitions int) bool {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[topic]++
	if f.fail[topic] {
		return false
	}
	f.brokers[topic] = brokerId
	return true
}

func (f *fakeClerk) Kill() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = true
}

func (f *fakeClerk) callCount(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[topic]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	for i := 0; i < 100; i++ {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRegistrarOncePerTopic(t *testing.T) {
	config := DefaultConfig()
	config.BrokerId = 5
	ck := newFakeClerk()
	r := MakeBrokerRegistrar(config, ck)
	defer r.Kill()

	for i := 0; i < 20; i++ {
		r.RegisterTopic("T")
	}
	r.RegisterTopic("U")

	waitFor(t, "T and U registered", func() bool {
		return r.Registered("T") && r.Registered("U")
	})
	r.RegisterTopic("T")
	time.Sleep(20 * time.Millisecond)

	if ck.callCount("T") != 1 || ck.callCount("U") != 1 {
		t.Fatalf("register calls T=%d U=%d, want 1 each", ck.callCount("T"), ck.callCount("U"))
	}
	if ck.brokers["T"] != 5 {
		t.Fatalf("registered under broker %d", ck.brokers["T"])
	}
}

func TestRegistrarRetriesAfterFailure(t *testing.T) {
	ck := newFakeClerk()
	ck.fail["T"] = true
	r := MakeBrokerRegistrar(DefaultConfig(), ck)
	defer r.Kill()

	r.RegisterTopic("T")
	waitFor(t, "failed attempt", func() bool { return ck.callCount("T") == 1 })
	time.Sleep(10 * time.Millisecond)
	if r.Registered("T") {
		t.Fatalf("failed registration recorded as done")
	}

	ck.mu.Lock()
	ck.fail["T"] = false
	ck.mu.Unlock()

	r.RegisterTopic("T")
	waitFor(t, "second attempt", func() bool { return r.Registered("T") })
}

func TestRegistrarNeverBlocks(t *testing.T) {
	ck := newFakeClerk()
	ck.block = make(chan struct{})
	r := MakeBrokerRegistrar(DefaultConfig(), ck)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 2*registrarQueueSize; i++ {
			r.RegisterTopic("topic-" + string(rune('a'+i%26)) + string(rune('a'+i/26)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("RegisterTopic blocked on a stuck registry")
	}

	close(ck.block)
	r.Kill()
	if !ck.killed {
		t.Fatalf("Kill did not reach the clerk")
	}
}

func TestRegistrarKillStopsWorker(t *testing.T) {
	ck := newFakeClerk()
	ck.block = make(chan struct{})
	r := MakeBrokerRegistrar(DefaultConfig(), ck)

	// one call in flight, one waiting in the queue
	r.RegisterTopic("T")
	r.RegisterTopic("U")

	r.Kill()
	r.Kill()
	r.RegisterTopic("V")
	close(ck.block)

	select {
	case <-r.done:
	case <-time.After(time.Second):
		t.Fatalf("worker still running after Kill")
	}
	if ck.callCount("U") != 0 || ck.callCount("V") != 0 {
		t.Fatalf("register calls after Kill: U=%d V=%d", ck.callCount("U"), ck.callCount("V"))
	}
	if r.Registered("V") {
		t.Fatalf("topic registered after Kill")
	}
}
