// Package thread persists the mapping from an end user to their conversation thread.
//
// A Store is the single owner of thread state. Every engine guarantees that
// Resolve is idempotent per user: concurrent first messages from the same
// user observe one thread id, never two. Work for different users does not
// share a lock.
//
// Engines:
//
//   - SQLiteStore: file-backed, default (modernc.org/sqlite)
//   - RedisStore: networked, HSETNX based get-or-create
//   - DynamoStore: networked, conditional PutItem / UpdateItem
//   - MemoryStore: in-process only, for tests and local runs
//
// Threads are never deleted; retention is handled outside this package.
package thread
