package entity

import "time"

const (
	TagSummarized = "summarized"
	TagShared     = "shared"
	TagLearned    = "learned"

	SharedSessionPrefix = "shared_"
)

// Context is the session-scoped working state of one agent, keyed by (AgentId, SessionId).
type Context struct {
	AgentId    string                 `json:"agent_id" validate:"required"`
	SessionId  string                 `json:"session_id" validate:"required"`
	Topic      string                 `json:"topic"`
	Entities   []string               `json:"entities"`
	Decisions  []string               `json:"decisions"`
	Outcome    *string                `json:"outcome,omitempty"`
	Tags       []string               `json:"tags"`
	Metadata   map[string]interface{} `json:"metadata"`
	Confidence float64                `json:"confidence" validate:"gte=0,lte=1"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Clone returns a deep copy. Metadata values are copied shallowly.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	out := *c
	out.Entities = append([]string(nil), c.Entities...)
	out.Decisions = append([]string(nil), c.Decisions...)
	out.Tags = append([]string(nil), c.Tags...)
	out.Metadata = CopyMetadata(c.Metadata)
	if c.Outcome != nil {
		o := *c.Outcome
		out.Outcome = &o
	}
	return &out
}

func (c *Context) HasTag(tag string) bool {
	return ContainsTag(c.Tags, tag)
}

func (c *Context) OutcomeText() string {
	if c.Outcome == nil {
		return ""
	}
	return *c.Outcome
}
