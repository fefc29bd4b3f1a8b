package domain

// NoticeKind names the purpose of an outbound notice. Rendering is left to
// the gateway.
type NoticeKind string

const (
	NoticeActivation    NoticeKind = "warranty.activation"
	NoticeStatus        NoticeKind = "warranty.status"
	NoticeReview        NoticeKind = "warranty.review"
	NoticeActivated     NoticeKind = "warranty.activated"
	NoticeVoided        NoticeKind = "warranty.voided"
	NoticeTicketWelcome NoticeKind = "ticket.welcome"
)

// Status drives the visual indicator of a notice.
type Status string

const (
	StatusPending Status = "pending"
	StatusReview  Status = "review"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusInfo    Status = "info"
)

// Action is one of the finite set of affordances the engine understands.
type Action string

const (
	ActionAcknowledge Action = "warranty.acknowledge"
	ActionCloseTicket Action = "ticket.close"
)

// Affordance is a reaction the gateway attaches to a notice. Payload carries
// the id of the workflow the affordance belongs to.
type Affordance struct {
	Emoji   string `json:"emoji"`
	Action  Action `json:"action"`
	Payload string `json:"payload"`
}

type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Notice struct {
	Kind        NoticeKind   `json:"kind"`
	Title       string       `json:"title"`
	Body        string       `json:"body"`
	Status      Status       `json:"status"`
	Fields      []Field      `json:"fields,omitempty"`
	Affordances []Affordance `json:"affordances,omitempty"`
	// Mentions are actors or roles pinged alongside the notice.
	Mentions []string `json:"mentions,omitempty"`
}

// TargetKind distinguishes direct messages from channel posts.
type TargetKind string

const (
	TargetUser    TargetKind = "user"
	TargetChannel TargetKind = "channel"
)

type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}

func UserTarget(id string) Target    { return Target{Kind: TargetUser, ID: id} }
func ChannelTarget(id string) Target { return Target{Kind: TargetChannel, ID: id} }

// MessageRef identifies a delivered notice so it can be edited later or
// matched against reactions.
type MessageRef struct {
	ChannelID string `json:"channelId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

func (r MessageRef) IsZero() bool {
	return r.MessageID == ""
}
