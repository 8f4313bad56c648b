// Package comm implements the message-passing capability every rank of a run
// is handed: its rank, the world size, point-to-point Send/Receive, and a
// Barrier. Components never read rank or world state from globals; they take
// a Communicator.
//
// Two transports implement Communicator:
//
//   - LocalWorld: every rank is a goroutine in one process and messages move
//     between in-memory mailboxes. Used by the local runner and by tests.
//   - Hub / Client: ranks are separate processes. Rank 0 serves a websocket
//     Hub (ServeHTTP on /ws); every other rank Dials it. Envelopes are msgpack
//     encoded binary frames; the hub relays envelopes addressed to other
//     peers. Ping/pong keepalives detect dead peers.
//
// Receive matches on (source, tag) and buffers everything else, so messages
// may arrive in any order. A rank that disconnects or is marked failed turns
// every pending and future Receive from it into a *types.CommunicationError.
// An abort envelope from rank 0 makes every Receive on the peer return an
// *AbortedError, so a fatal coordinator error releases blocked peers.
//
// Barrier is coordinator-centred: every rank sends a barrier message to rank
// 0 and waits for the release rank 0 sends once all have arrived.
package comm
