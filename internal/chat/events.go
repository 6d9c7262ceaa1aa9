package chat

// Sink receives the client-visible events of one protocol invocation. All
// three protocols emit through the same sink so callers consume a uniform
// stream regardless of which operation is active.
type Sink interface {
	Send(event any) error
}

// TokenEvent carries one incremental fragment of generated text.
type TokenEvent struct {
	Token string `json:"token"`
}

// StoppedEvent terminates a run that was cancelled or hit the response
// ceiling. PartialContent always carries the accumulated text, even when
// empty.
type StoppedEvent struct {
	Stopped        bool   `json:"stopped"`
	PartialContent string `json:"partial_content"`
	Reason         string `json:"reason,omitempty"`
}

// ReasonTokenLimit marks a StoppedEvent caused by the response token ceiling.
const ReasonTokenLimit = "token_limit"

// ErrorEvent terminates a run that failed. The message is user-facing.
type ErrorEvent struct {
	Error string `json:"error"`
}
