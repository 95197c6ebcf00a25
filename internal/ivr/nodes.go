package ivr

import "fmt"

// NodeType discriminates the tagged node variants in a flow graph.
type NodeType string

const (
	NodeMenu        NodeType = "menu"
	NodeGatherInput NodeType = "gather_input"
	NodePlayMessage NodeType = "play_message"
	NodeTransfer    NodeType = "transfer"
	NodeVoicemail   NodeType = "voicemail"
	NodeConditional NodeType = "conditional"
	NodeSetVariable NodeType = "set_variable"
	NodeWebhook     NodeType = "webhook"
	NodeEndCall     NodeType = "end_call"
)

// Node is one vertex of a flow graph, tagged by Type. Only the fields for
// the node's own variant are meaningful; flows are stored as JSON so the
// payload stays flat rather than one struct per variant.
//
// All node references (NextNode, TrueNode, FalseNode, TimeoutNode, Options
// values) are validated against the owning flow on save: a dangling
// reference is a ConfigurationError, never a runtime surprise.
type Node struct {
	Type NodeType `json:"type"`

	// Message is the spoken prompt; AudioURL takes precedence when set.
	Message  string `json:"message,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`

	// MENU: caller input -> node id.
	Options map[string]string `json:"options,omitempty"`

	// MENU / GATHER_INPUT prompt collection settings.
	InputType      string   `json:"input_type,omitempty"` // digits | speech
	NumDigits      int      `json:"num_digits,omitempty"`
	FinishOnKey    string   `json:"finish_on_key,omitempty"`
	ValidInputs    []string `json:"valid_inputs,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`

	// GATHER_INPUT stores the caller's input under VariableName
	// ("user_input" when empty). SET_VARIABLE writes VariableValue there.
	VariableName  string `json:"variable_name,omitempty"`
	VariableValue string `json:"variable_value,omitempty"`

	// CONDITIONAL: Condition is evaluated against session variables.
	Condition string `json:"condition,omitempty"`
	TrueNode  string `json:"true_node,omitempty"`
	FalseNode string `json:"false_node,omitempty"`

	// WEBHOOK request description; the embedding facade executes it and
	// resumes the session afterwards.
	WebhookURL    string `json:"webhook_url,omitempty"`
	WebhookMethod string `json:"webhook_method,omitempty"`

	// TRANSFER dial target (agent id, queue id, or number).
	TransferTo string `json:"transfer_to,omitempty"`

	// NextNode is the default onward edge; TimeoutNode overrides the
	// generic retry path on timeout for this node only.
	NextNode    string `json:"next_node,omitempty"`
	TimeoutNode string `json:"timeout_node,omitempty"`
}

// references returns every node id this node points at, for validation.
func (n Node) references() []string {
	var refs []string
	add := func(id string) {
		if id != "" {
			refs = append(refs, id)
		}
	}
	add(n.NextNode)
	add(n.TimeoutNode)
	add(n.TrueNode)
	add(n.FalseNode)
	for _, target := range n.Options {
		add(target)
	}
	return refs
}

// ConfigurationError marks a corrupt flow definition (dangling node
// reference, missing entry node). Fatal for the session/flow operation and
// worth alerting on; not a runtime condition.
type ConfigurationError struct {
	FlowID string
	Detail string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("ivr: configuration error on flow %s: %s", e.FlowID, e.Detail)
}
