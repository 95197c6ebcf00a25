package ivr

// ActionType tags the abstract action the telephony layer must realize.
type ActionType string

const (
	ActionGatherInput     ActionType = "gather_input"
	ActionPlayAndContinue ActionType = "play_and_continue"
	ActionInvalidInput    ActionType = "invalid_input"
	ActionTimeout         ActionType = "timeout"
	ActionVoicemail       ActionType = "voicemail"
	ActionWebhook         ActionType = "webhook"
	ActionTransfer        ActionType = "transfer"
	ActionEndCall         ActionType = "end_call"
)

// Action is the tagged record handed to the telephony layer. The core emits
// abstract actions only; rendering (TwiML, SIP) happens at the provider
// boundary.
//
// Prompts collect the messages of PLAY_MESSAGE nodes crossed synchronously
// on the way to this action, in play order, followed by the emitting node's
// own message.
type Action struct {
	Type   ActionType `json:"type"`
	NodeID string     `json:"node_id,omitempty"`

	Prompts  []string `json:"prompts,omitempty"`
	AudioURL string   `json:"audio_url,omitempty"`
	Language string   `json:"language,omitempty"`

	// gather_input / invalid_input / timeout
	InputType      string   `json:"input_type,omitempty"`
	NumDigits      int      `json:"num_digits,omitempty"`
	FinishOnKey    string   `json:"finish_on_key,omitempty"`
	ValidInputs    []string `json:"valid_inputs,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
	RetryCount     int      `json:"retry_count,omitempty"`

	// webhook
	WebhookURL    string `json:"webhook_url,omitempty"`
	WebhookMethod string `json:"webhook_method,omitempty"`
	// WebhookNext is the node the facade resumes at once the webhook is done.
	WebhookNext string `json:"webhook_next,omitempty"`

	// transfer
	TransferTo string `json:"transfer_to,omitempty"`

	// EndsSession is set when the session was finalized while producing
	// this action.
	EndsSession bool   `json:"ends_session,omitempty"`
	ExitReason  string `json:"exit_reason,omitempty"`
}
