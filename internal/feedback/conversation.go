package feedback

import "fmt"

// Conversation keeps the trailing coach dialogue of one session.
type Conversation struct {
	max     int
	entries []string
}

// NewConversation keeps at most limit lines (MaxHistory when limit <= 0).
func NewConversation(limit int) *Conversation {
	if limit <= 0 {
		limit = MaxHistory
	}
	return &Conversation{max: limit}
}

// Record appends the user's observed state and the coach's reply.
func (c *Conversation) Record(exercise string, angle float64, stage, reply string) {
	c.entries = append(c.entries,
		fmt.Sprintf("사용자: (%s 자세, 각도: %d, 상태: %s)", exercise, int(angle), stage),
		fmt.Sprintf("AI 코치: %s", reply),
	)
	if len(c.entries) > c.max {
		c.entries = append([]string(nil), c.entries[len(c.entries)-c.max:]...)
	}
}

// Entries returns a copy of the history, oldest first.
func (c *Conversation) Entries() []string {
	return append([]string(nil), c.entries...)
}

// Len is the number of stored lines.
func (c *Conversation) Len() int { return len(c.entries) }
