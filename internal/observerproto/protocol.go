package observerproto

// Version is the observer protocol version.
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeRound     = "ROUND"
	TypeDone      = "DONE"
)

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// Every thins the feed to one message per N rounds. The final round is always sent.
	Every int `json:"every,omitempty"`
}

// HTTP response for GET /v1/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	RunID           string      `json:"run_id"`
	Encoding        string      `json:"encoding"`
	Relief          uint32      `json:"relief"`
	Rounds          int         `json:"rounds"`
	ModulusBound    uint32      `json:"modulus_bound"`
	Round           uint64      `json:"round"`
	Agents          []AgentInfo `json:"agents"`
}

type AgentInfo struct {
	ID        int    `json:"id"`
	Operation string `json:"operation"`
	Divisor   uint32 `json:"divisor"`
	IfTrue    int    `json:"if_true"`
	IfFalse   int    `json:"if_false"`
}

// Server -> Client. Sent after every round (subject to Every) and once with
// type DONE when the run ends.
type RoundMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	RunID           string   `json:"run_id"`
	Round           uint64   `json:"round"`
	Digest          string   `json:"digest"`
	Inspected       []uint64 `json:"inspected"`
	Score           uint64   `json:"score"`
	Error           string   `json:"error,omitempty"`
}
