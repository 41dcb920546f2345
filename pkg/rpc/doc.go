// Package rpc implements the wire protocol spoken with the pairing relay.
//
// Every frame wraps a Payload encoded as a compact JSON array:
//
//	{"req": [42, "subscribe", {"topic": "a1b2", "client_id": "9f..."}, 1700000000000]}
//	{"res": [42, "subscribe", {}, 1700000000050]}
//
// The relay answers a request with a frame carrying the same request id. Frames
// with an id that matches no pending call are events (session_request,
// call_request, disconnect) and are dispatched by Client to the handler
// registered with HandleEvent.
//
// Failures reported by the relay travel as {"error": "..."} params. Client.Call
// turns them into an Error; on events they are left for the handler to inspect
// with Params.Error.
//
// WebsocketDialer keeps the connection open with periodic pings and buffers up
// to WebsocketDialerConfig.EventBuffer events; when the buffer is full further
// events are dropped and logged.
package rpc
