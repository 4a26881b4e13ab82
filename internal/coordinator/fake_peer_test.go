package coordinator

import (
	"context"
	"sync"

	"replicadb/internal/ports"
	"replicadb/internal/types"
)

type fakePeer struct {
	id types.ReplicaID

	mu           sync.Mutex
	leader       types.ReplicaID
	notifyCalls  int
	probes       int
	received     []types.Record
	replicated   []types.Record
	heartbeatErr error
	receiveErr   error
	replicateErr error
}

var _ ports.Peer = (*fakePeer)(nil)

func newFakePeer(id types.ReplicaID) *fakePeer {
	return &fakePeer{id: id}
}

func (p *fakePeer) ID() types.ReplicaID { return p.id }

func (p *fakePeer) NotifyLeader(_ context.Context, leader types.ReplicaID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leader = leader
	p.notifyCalls++
	return nil
}

func (p *fakePeer) CheckHeartbeat(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes++
	return p.heartbeatErr
}

func (p *fakePeer) ReceiveData(_ context.Context, rec types.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.receiveErr != nil {
		return p.receiveErr
	}
	p.received = append(p.received, rec)
	return nil
}

func (p *fakePeer) ReplicateData(_ context.Context, rec types.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.replicateErr != nil {
		return p.replicateErr
	}
	p.replicated = append(p.replicated, rec)
	return nil
}

func (p *fakePeer) GetData(_ context.Context, id types.RecordID) (types.Record, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, rec := range p.replicated {
		if rec.ID == id {
			return rec, true, nil
		}
	}
	return types.Record{}, false, nil
}

func (p *fakePeer) Records(context.Context) ([]types.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Record(nil), p.replicated...), nil
}

func (p *fakePeer) Leader() types.ReplicaID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leader
}

func (p *fakePeer) Received() []types.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Record(nil), p.received...)
}

func (p *fakePeer) Replicated() []types.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Record(nil), p.replicated...)
}

func (p *fakePeer) Probes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.probes
}

func (p *fakePeer) SetHeartbeatErr(err error) {
	p.mu.Lock()
	p.heartbeatErr = err
	p.mu.Unlock()
}

// splitReachability connects members only inside the same group.
type splitReachability map[types.ReplicaID]int

func (s splitReachability) CanCommunicate(a, b types.ReplicaID) bool {
	return s[a] == s[b]
}
