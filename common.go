package samsa

const (
	StatusSuccess             = 200
	StatusForbidden           = 403
	StatusInternalServerError = 500
	StatusGatewayTimeout      = 504
)

const (
	MsgSlaveDisconnected = "Slave is disconnected "
	MsgSlaveFailed       = "Put message to slave failed"
	MsgMasterFailed      = "Put message to master failed"
)

// Outcome of one put, as reported to the producer.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeSlaveUnreachable
	OutcomeSlaveAppendFailed
	OutcomeMasterAppendFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "Success"
	case OutcomeSlaveUnreachable:
		return "SlaveUnreachable"
	case OutcomeSlaveAppendFailed:
		return "SlaveAppendFailed"
	case OutcomeMasterAppendFailed:
		return "MasterAppendFailed"
	}
	return "Unknown"
}

type PutArgs struct {
	Topic     string
	Partition int
	Data      []byte
	Flag      int32
	Opaque    int32 // caller's correlation id, echoed in the reply
}

type PutReply struct {
	Opaque  int32
	Status  int
	Message string
	Outcome Outcome

	// set only on success
	MessageId int64
	Partition int
	Offset    int64
}

// master -> slave
type SyncArgs struct {
	Topic     string
	Partition int
	Data      []byte
	MessageId int64
	Flag      int32
	Opaque    int32 // scoped to this hop, unrelated to PutArgs.Opaque
}

type SyncReply struct {
	Opaque  int32
	Status  int
	Message string
}

type PingArgs struct {
	From int
}

type PingReply struct {
	BrokerId int
}

// PutCallback receives the single reply for a put.
type PutCallback func(reply *PutReply)
