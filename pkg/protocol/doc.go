// Package protocol implements the gateway's wire format.
//
// Every message travels in a frame: a 4-byte big-endian length followed by
// that many payload bytes. Payloads are CBOR arrays whose first element is
// the message type:
//
//	Requests:  Ping [0]   Bye [1]   GetLogs [2, from, to, [[address, topic0], ...]]
//	Responses: Row [0, payload]   End [1, count]   Error [2, message]   Fatal [3, message]
//
// A request is answered by zero or more Row frames followed by exactly one
// End frame. Error frames are request-scoped and may appear between rows.
// Fatal is connection-scoped; the server closes the connection after it.
package protocol
