package registry

const (
	OK             = "OK"
	ErrNoTopic     = "ErrNoTopic"
	ErrWrongLeader = "ErrWrongLeader"
	ErrTimeout     = "ErrTimeout"
)

type Err string

type RegisterArgs struct {
	Topic       string
	BrokerId    int
	Partitions  int
	ClientId    int64
	SequenceNum int64
}

type RegisterReply struct {
	Err Err
}

type QueryArgs struct {
	Topic       string
	ClientId    int64
	SequenceNum int64
}

type QueryReply struct {
	Err     Err
	Brokers map[int]int // broker id -> partitions
}
