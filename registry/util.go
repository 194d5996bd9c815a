package registry

import (
	"log"
	"time"
)

const Debug = false

const Server_Timeout = 1000 * time.Millisecond

const Clerk_RetryInterval = 20 * time.Millisecond

func DPrintf(format string, a ...interface{}) (n int, err error) {
	if Debug {
		log.Printf(format, a...)
	}
	return
}

func (rs *RegistryServer) isDuplicatedCmd(clientId, sequenceNum int64) bool {
	lastApplyNum, hasClient := rs.lastApplySeq[clientId]
	if !hasClient {
		// has no client
		return false
	}
	return sequenceNum <= lastApplyNum
}
