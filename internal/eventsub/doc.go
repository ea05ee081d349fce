// Package eventsub implements the Twitch EventSub WebSocket session
// protocol: connection lifecycle, frame reassembly, envelope
// classification, typed message decoding, and ordered event delivery
// to a host-drained queue.
//
// The client owns exactly one connection at a time. Connect and
// Disconnect are the only externally callable state transitions; a
// dedicated receive goroutine pushes decoded events outward and
// latches the server-assigned session id on welcome.
package eventsub
