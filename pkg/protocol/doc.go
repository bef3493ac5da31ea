// Package protocol defines the request and response envelopes exchanged
// with pilot clients.
//
// Every frame is one JSON object with a meta block that correlates
// responses to requests and a payload block naming the action:
//
//	{"meta": {"messageId": "m1", "conversationId": "c1", "timestampMs": 1700000000000},
//	 "payload": {"action": "ai", "params": "open the pricing page"}}
//
// Parse accepts strict JSON and falls back to a single lenient repair pass;
// frames that still fail produce a *ParseError, which ParseFailure turns
// into an error envelope. Params are kept raw and decoded per action by the
// RequestPayload helpers.
package protocol
