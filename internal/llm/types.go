package llm

// Role represents the role of a message sender in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single message in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest contains the parameters for a completion request.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// CompletionResponse contains the result of a completion request.
type CompletionResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
	Model        string
	FinishReason string
}

// Usage returns the provider-reported token total, or 0 when none was reported.
func (r *CompletionResponse) Usage() int {
	if r == nil {
		return 0
	}
	return r.InputTokens + r.OutputTokens
}

// Event is one item of a streamed generation. A stream carries any number of
// Text fragments followed by exactly one event with Done set.
type Event struct {
	Text  string
	Done  bool
	Usage int
	Err   error
}

// Window returns the last n messages of conv. n <= 0 returns conv unchanged.
func Window(conv []Message, n int) []Message {
	if n <= 0 || len(conv) <= n {
		return conv
	}
	return conv[len(conv)-n:]
}

// LastUser returns the content of the most recent user message.
func LastUser(conv []Message) string {
	for i := len(conv) - 1; i >= 0; i-- {
		if conv[i].Role == RoleUser {
			return conv[i].Content
		}
	}
	return ""
}
