// Package project resolves working directories to stable project
// identities and owns the bounded set of in-memory project states.
//
// A project is identified by the first 16 hex characters of a SHA-256
// hash over, in order of preference, the git origin URL, the git worktree
// root or the working directory itself. Identities are cached with a TTL.
//
// Manager keeps at most a configured number of ProjectState instances in
// an LRU. Each Acquire holds the project's lock until released, so
// requests for one project are serialized while different projects
// proceed in parallel. A dirty state pushed out of the LRU is flushed
// synchronously before Acquire returns; until that flush succeeds the
// persistence writer still holds the instance and a later Acquire adopts
// it instead of reading a stale document.
package project
