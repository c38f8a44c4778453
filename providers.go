package dictgo

import (
	"fmt"
	"sync"
)

// Role describes what background work a node runs: masters train and
// collect garbage, replicas only serve encode/decode.
type Role int

const (
	RoleReplica Role = iota
	RoleMaster
)

func (r Role) String() string {
	if r == RoleMaster {
		return "master"
	}
	return "replica"
}

// RoleProvider reports the node's current role. Role transitions are pushed
// into the engine via SetRole; the provider is consulted once at startup.
type RoleProvider interface {
	Role() Role
}

// StaticRole is a RoleProvider with a fixed answer.
type StaticRole Role

// Role implements RoleProvider.
func (r StaticRole) Role() Role { return Role(r) }

// IDProvider allocates dictionary ids. In a clustered deployment this must
// be backed by a shared sequencer so two masters can never mint the same id;
// the provider serializes itself.
type IDProvider interface {
	Alloc() (uint16, error)
	Release(id uint16) error
}

// LocalIDProvider hands out ids from process-local state. Suitable for
// single-node deployments and tests.
type LocalIDProvider struct {
	mu   sync.Mutex
	used map[uint16]bool
	next uint16
}

// NewLocalIDProvider creates an empty provider.
func NewLocalIDProvider() *LocalIDProvider {
	return &LocalIDProvider{used: make(map[uint16]bool), next: 1}
}

// Alloc returns the smallest unused id.
func (p *LocalIDProvider) Alloc() (uint16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := p.next; id >= 1 && id <= 0xFFFE; id++ {
		if !p.used[id] {
			p.used[id] = true
			p.next = id + 1
			return id, nil
		}
	}
	for id := uint16(1); id <= 0xFFFE; id++ {
		if !p.used[id] {
			p.used[id] = true
			return id, nil
		}
	}
	return 0, fmt.Errorf("dictionary id space exhausted")
}

// Release returns an id to the pool.
func (p *LocalIDProvider) Release(id uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.used, id)
	if id < p.next {
		p.next = id
	}
	return nil
}
