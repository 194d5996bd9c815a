package registry

import (
	"bytes"

	"github.com/cyanial/raft/labgob"
)

type PersistSnapshot struct {
	Topics       map[string]map[int]int
	LastApplySeq map[int64]int64
	LastApplied  int
}

// caller holds rs.mu
func (rs *RegistryServer) createSnapshot() []byte {
	w := new(bytes.Buffer)
	e := labgob.NewEncoder(w)

	snapshot := PersistSnapshot{
		Topics:       rs.table.copyTopics(),
		LastApplySeq: rs.lastApplySeq,
		LastApplied:  rs.lastApplied,
	}

	err := e.Encode(snapshot)
	if err != nil {
		DPrintf("rs.createSnapshot failed")
		return nil
	}

	return w.Bytes()
}

// caller holds rs.mu
func (rs *RegistryServer) installSnapshot(snapshot []byte) {
	if len(snapshot) == 0 {
		return
	}

	r := bytes.NewBuffer(snapshot)
	d := labgob.NewDecoder(r)

	var persistSnapshot PersistSnapshot

	err := d.Decode(&persistSnapshot)
	if err != nil {
		DPrintf("rs.installSnapshot failed")
		return
	}

	rs.table.restore(persistSnapshot.Topics)
	rs.lastApplySeq = persistSnapshot.LastApplySeq
	if rs.lastApplySeq == nil {
		rs.lastApplySeq = map[int64]int64{}
	}
	rs.lastApplied = persistSnapshot.LastApplied
}

func (rs *RegistryServer) needSnapshot() bool {
	return rs.maxraftstate != -1 && rs.persister.RaftStateSize() >= rs.maxraftstate
}
