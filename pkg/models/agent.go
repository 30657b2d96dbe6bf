package models

// AgentProfile describes a worker agent asking for work. Agents run
// outside the engine; the profile is all the scheduler ever sees.
type AgentProfile struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Capabilities lists the skills the agent declares (e.g. "api",
	// "database", "frontend"). Used for match scoring, never as a hard
	// filter.
	Capabilities []string `json:"capabilities,omitempty"`
}

// HasCapability reports whether the agent declared the given capability.
func (a AgentProfile) HasCapability(cap string) bool {
	for _, c := range a.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}
