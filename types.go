package mogi

// Role is an actor's RBAC role.
type Role string

const (
	RoleOrgOwner Role = "org_owner"
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleReader   Role = "reader"
)

// AgentSpec is a roster entry: the role name an agent plays in a scenario
// and the brief that shapes its contributions.
type AgentSpec struct {
	Role  string
	Brief string
}

// TranscriptTurn is one prior turn of the run, visible to the acting agent.
type TranscriptTurn struct {
	Seq     int64
	Role    string
	Content string
}

// FeedbackNote is moderator feedback visible to the acting agent. Only
// feedback posted before the acting turn's sequence position is included.
type FeedbackNote struct {
	Author  string
	Content string
}

// ActionRequest carries everything an external action provider needs to
// produce one agent turn.
type ActionRequest struct {
	SimulationName        string
	SimulationDescription string
	Roster                []AgentSpec

	// Agent is the acting roster entry.
	Agent AgentSpec
	// Seq is the sequence number the produced turn will receive.
	Seq      int64
	History  []TranscriptTurn
	Feedback []FeedbackNote
}

// Action is an agent's produced output for one turn.
type Action struct {
	Content string
	// Model identifies what produced the action, recorded in audit payloads.
	Model string
}
