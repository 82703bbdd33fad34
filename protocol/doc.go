/*
Package protocol defines the wire contract between a controller and an agent. The channel is a single WebSocket connection carrying JSON text messages, so the controller only requires an HTTPS server. Requests flow controller->agent as envelopes and acknowledgments flow agent->controller as acks; the agent never initiates an exchange.

Sessions are scoped to the WebSocket connection--if the connection dies for any reason, the agent process exits and any in-flight work is abandoned. There is no reconnect and no session resumption.

The protocol proceeds as follows:

1. The agent opens a WebSocket connection with the controller's channel endpoint.
2. The controller sends an Envelope containing the event name, a correlation ID, and an event-specific payload.
3. The agent performs the requested action and sends exactly one Ack carrying the same ID, with either a result payload or an error string.
4. Steps 2 and 3 repeat, possibly overlapping: slow actions do not block later envelopes, so acks can arrive in any order relative to their requests.
5. A "terminate" envelope ends the session. It carries no ID and is never acknowledged; the agent just exits.

Payloads by event:

	environment    none          -> EnvInfo
	exec           ExecRequest   -> ExecResult
	write          JSON string   -> empty ack
	read_line      none          -> JSON string
	loading_start  LoadingRequest-> empty ack
	loading_stop   none          -> empty ack
	terminate      none          -> no ack

Command output is buffered in full and returned inside the exec ack rather than streamed, which is why MaxMessageSize bounds the output a single command may produce.
*/
package protocol
