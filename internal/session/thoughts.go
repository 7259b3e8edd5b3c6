package session

import (
	"github.com/logmapper/internal/transport"
)

// AgentThoughts is the append-only thought log for one agent within one run.
type AgentThoughts struct {
	Agent string
	Steps []transport.ThoughtStep
}

// ThoughtLog aggregates streamed thoughts by agent, preserving both the order
// agents first appeared and the order of steps within each agent. The whole
// log is cleared when a new Starting or Resuming phase begins.
type ThoughtLog struct {
	agents []*AgentThoughts
	index  map[string]*AgentThoughts
}

// NewThoughtLog returns an empty log.
func NewThoughtLog() *ThoughtLog {
	return &ThoughtLog{index: map[string]*AgentThoughts{}}
}

// Append records one step under its agent.
func (l *ThoughtLog) Append(agent string, step transport.ThoughtStep) {
	if agent == "" {
		agent = "mapper"
	}
	at, ok := l.index[agent]
	if !ok {
		at = &AgentThoughts{Agent: agent}
		l.index[agent] = at
		l.agents = append(l.agents, at)
	}
	at.Steps = append(at.Steps, step)
}

// Reset discards all recorded thoughts.
func (l *ThoughtLog) Reset() {
	l.agents = nil
	l.index = map[string]*AgentThoughts{}
}

// Agents returns the per-agent logs in first-appearance order.
func (l *ThoughtLog) Agents() []*AgentThoughts {
	out := make([]*AgentThoughts, len(l.agents))
	copy(out, l.agents)
	return out
}

// Len returns the total number of recorded steps.
func (l *ThoughtLog) Len() int {
	n := 0
	for _, at := range l.agents {
		n += len(at.Steps)
	}
	return n
}
