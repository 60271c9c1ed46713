// Package session keeps the conversations of a process. Sessions are created
// lazily by id and evicted after a period of inactivity or when the store
// grows past its capacity. A session that is running a turn is never evicted.
//
// The store is owned by the calling layer; the agent loop only operates on
// the *core.Session it is handed.
package session
