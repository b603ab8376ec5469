// Package mongo provides MongoDB-backed chat history storage. Use clients/mongo
// to build the low-level client and pass it to NewStore to obtain a
// history.Store that keeps one document per chat.
package mongo
