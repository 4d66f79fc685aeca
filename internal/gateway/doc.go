// Package gateway implements the push connection manager.
//
// A Manager owns exactly one transport session to a push gateway at a time.
// Pushes are fire-and-forget: headers are synthesized per authentication mode,
// the request is sent as a new stream, and the stream's completion arrives
// later as an asynchronous Message to the owning Client. When the session
// terminates the Manager notifies the client, waits an exponential backoff
// delay and opens a replacement.
//
// All state transitions of a Manager run on a single goroutine fed by one
// inbox channel, so no locking guards manager state.
//
// # Authentication
//
// Certificate mode authenticates at the TLS layer and never sends an
// authorization header. Token mode takes the bearer token with every push and
// sends it as "authorization: bearer <token>".
//
// # Correlation
//
// Managers do not track outstanding streams. A caller that needs the result of
// a specific push uses Manager.Request to obtain the stream id and then
// Mailbox.Wait to pick out the matching response.
package gateway
