package rpcclient

// NackError reports that the server refused the call at the REQ_NAME step
// (unknown request name, most commonly). It is a *successful* protocol
// exchange, not a transport failure: the connection is left open for
// further calls (spec.md §4.8, §9 resolves the "is the socket reusable
// after NACK" open question in favor of reuse — only framing/transport
// errors close the socket).
type NackError struct {
	Message string
}

func (e *NackError) Error() string { return "rpc refused: " + e.Message }

// ServerError reports a non-empty trailing ERR frame after a successful
// RESP — the handler ran but recorded an error on its Context.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return "rpc failed: " + e.Message }
