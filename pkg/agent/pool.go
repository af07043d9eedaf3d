package agent

import (
	"sync"

	"github.com/evidencechain/orchestrator/pkg/domain"
)

// Pool is a fixed set of agents created at startup. The pool itself holds no
// scheduling policy; it only answers availability queries.
type Pool struct {
	mu     sync.RWMutex
	agents []*Agent
	byID   map[string]*Agent
}

// NewPool creates a pool over the given agents
func NewPool(agents ...*Agent) *Pool {
	p := &Pool{byID: make(map[string]*Agent, len(agents))}
	for _, a := range agents {
		p.agents = append(p.agents, a)
		p.byID[a.ID()] = a
	}
	return p
}

// Get returns the agent with the given id
func (p *Pool) Get(id string) (*Agent, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.byID[id]
	return a, ok
}

// Agents returns all agents in creation order
func (p *Pool) Agents() []*Agent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Agent, len(p.agents))
	copy(out, p.agents)
	return out
}

// FindAvailable returns the first agent with the given capability and a free
// assignment slot. Agents in error state are skipped.
func (p *Pool) FindAvailable(capability domain.Capability) (*Agent, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, a := range p.agents {
		if a.Capability() != capability {
			continue
		}
		if a.Status() == StatusError {
			continue
		}
		if a.HasCapacity() {
			return a, true
		}
	}
	return nil, false
}

// CountWorking returns how many agents are currently executing a task
func (p *Pool) CountWorking() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, a := range p.agents {
		if a.Status() == StatusWorking {
			n++
		}
	}
	return n
}

// CountAssigned returns the number of task assignments held across all
// agents, executing or not.
func (p *Pool) CountAssigned() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, a := range p.agents {
		n += a.CurrentTasks()
	}
	return n
}

// Size returns the number of agents in the pool
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.agents)
}
