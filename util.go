package samsa

import (
	"log"
	"strconv"
	"time"
)

const Debug = false

func init() {
	log.SetFlags(log.Ltime)
}

func DPrintf(format string, a ...interface{}) (n int, err error) {
	if Debug {
		log.Printf(format, a...)
	}
	return
}

// Config holds the settings of one broker.
type Config struct {
	BrokerId      int
	SlaveUrl      string // replica endpoint this master forwards every put to
	NumPartitions int

	MaxMessageSize int
	SegmentSize    int // bytes per store segment, 0 means store.DefaultSegmentSize

	AppendTimeout     time.Duration // bound on the local append, 0 disables
	SyncTimeout       time.Duration // bound on the slave's answer
	HeartbeatInterval time.Duration

	MaxRaftState int // registry snapshot threshold, -1 disables
}

func DefaultConfig() *Config {
	return &Config{
		BrokerId:          0,
		SlaveUrl:          "meta://localhost:8124",
		NumPartitions:     4,
		MaxMessageSize:    1024 * 1024,
		SegmentSize:       4 * 1024 * 1024,
		AppendTimeout:     2000 * time.Millisecond,
		SyncTimeout:       1000 * time.Millisecond,
		HeartbeatInterval: 200 * time.Millisecond,
		MaxRaftState:      -1,
	}
}

// PartitionString is the broker-scoped partition key, "brokerId-partition".
func (c *Config) PartitionString(partition int) string {
	return strconv.Itoa(c.BrokerId) + "-" + strconv.Itoa(partition)
}
