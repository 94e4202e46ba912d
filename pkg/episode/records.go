package episode

// Chat roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn in an export record
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRecord is an instruction-tuning or evaluation export record
type ChatRecord struct {
	Messages []Message   `json:"messages"`
	Meta     *RecordMeta `json:"meta,omitempty"`
}

// TextRecord is a continued-pretraining export record
type TextRecord struct {
	Text string     `json:"text"`
	Meta RecordMeta `json:"meta"`
}

// RecordMeta traces an export record back to its episode
type RecordMeta struct {
	EpisodeID string `json:"episode_id"`
	Bucket    string `json:"bucket,omitempty"`
	Topic     string `json:"topic,omitempty"`
	Mode      string `json:"interaction_mode,omitempty"`
	Variant   string `json:"variant,omitempty"`
	Task      string `json:"task,omitempty"`
}

// HasRoles reports whether the record has at least one user and one assistant turn
func (r *ChatRecord) HasRoles() bool {
	var user, assistant bool
	for _, m := range r.Messages {
		switch m.Role {
		case RoleUser:
			user = true
		case RoleAssistant:
			assistant = true
		}
	}
	return user && assistant
}
