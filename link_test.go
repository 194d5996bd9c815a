package samsa

import (
	"testing"
	"time"

	"github.com/cyanial/raft/labrpc"
)

func TestLinkUnknownSlave(t *testing.T) {
	config := DefaultConfig()
	l := MakeRPCLink(config)
	defer l.Kill()

	if l.IsConnected("meta://nowhere:1") {
		t.Fatalf("unknown slave reported connected")
	}

	done := make(chan *SyncReply, 2)
	l.Send("meta://nowhere:1", &SyncArgs{Opaque: 9}, func(reply *SyncReply) {
		done <- reply
	})
	select {
	case reply := <-done:
		if reply.Status == StatusSuccess || reply.Opaque != 9 {
			t.Fatalf("reply = %+v", reply)
		}
	case <-time.After(time.Second):
		t.Fatalf("send to unknown slave never answered")
	}
}

func TestLinkSendAndTimeout(t *testing.T) {
	net := labrpc.MakeNetwork()
	defer net.Cleanup()

	config := DefaultConfig()
	config.SyncTimeout = 300 * time.Millisecond
	config.HeartbeatInterval = time.Hour

	slave := MakeSlave(config, storeManagerFor(config))
	defer slave.storeManager.Close()
	srv := labrpc.MakeServer()
	srv.AddService(labrpc.MakeService(slave))
	net.AddServer("slave", srv)

	end := net.MakeEnd("master-slave")
	net.Connect("master-slave", "slave")
	net.Enable("master-slave", true)

	l := MakeRPCLink(config)
	defer l.Kill()
	l.AddSlave(config.SlaveUrl, end)
	if !l.IsConnected(config.SlaveUrl) {
		t.Fatalf("slave not connected after AddSlave")
	}

	send := func(args *SyncArgs) *SyncReply {
		done := make(chan *SyncReply, 2)
		l.Send(config.SlaveUrl, args, func(reply *SyncReply) {
			done <- reply
		})
		select {
		case reply := <-done:
			select {
			case <-done:
				t.Fatalf("callback invoked twice")
			case <-time.After(config.SyncTimeout + 200*time.Millisecond):
			}
			return reply
		case <-time.After(3 * time.Second):
			t.Fatalf("send never answered")
		}
		return nil
	}

	reply := send(&SyncArgs{Topic: "T", Partition: 0, Data: []byte("x"), MessageId: 77, Opaque: NextOpaque()})
	if reply.Status != StatusSuccess {
		t.Fatalf("sync = %d %q", reply.Status, reply.Message)
	}
	msgs, _ := slave.storeManager.GetMessageStore("T", 0).Messages()
	if len(msgs) != 1 || msgs[0].Id != 77 {
		t.Fatalf("slave stored %v", msgs)
	}

	// long delays keep a disabled end silent well past SyncTimeout
	net.LongDelays(true)
	net.Enable("master-slave", false)

	start := time.Now()
	reply = send(&SyncArgs{Topic: "T", Partition: 0, Data: []byte("y"), MessageId: 78, Opaque: NextOpaque()})
	if reply.Status == StatusSuccess {
		t.Fatalf("sync over a dead end succeeded")
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("send took %v, timeout not enforced", time.Since(start))
	}
	if l.IsConnected(config.SlaveUrl) {
		t.Fatalf("failed send left the slave marked connected")
	}
}
