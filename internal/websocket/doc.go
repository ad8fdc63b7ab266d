// Package websocket pushes job snapshots to browser clients.
//
// The Hub owns the client set and fans every message out to each client's
// send buffer; a client whose buffer is full is dropped rather than
// allowed to stall the broadcaster. Hub satisfies operations.WebSocketHub.
//
// Clients receive every job's updates by default. Connecting with
// ?job_id=<id>, or sending {"type":"subscribe","job_id":"<id>"}, narrows
// the stream to one job; {"type":"unsubscribe"} widens it again.
package websocket
