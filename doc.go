// Package rop defines the core interfaces, types, and helpers used across the ROP codebase.
// ROP (Remote Objects Proxy) is a transactional client for business application servers
// that expose their object model over JSON-RPC (create/read/write/delete plus arbitrary
// model methods). The server commits every RPC call independently and immediately; ROP
// layers client-side engineering subsystems on top of that bare contract: a
// transaction/savepoint engine that emulates atomic, rollback-capable operation groups
// via compensation (package transaction), a pooled wire transport with failure detection
// (package jsonrpc), response caching (package cache), chunked bulk operations
// (package batch), a search-domain builder (package query), and CEL-based model
// validation (package validate).
// This root package is foundational: it holds the remote-client capability interface,
// shared error codes, UUIDs, retry/backoff and concurrency helpers that the subpackages
// build upon. It is not intended to be used directly by end-users, but rather serves as
// a base for the subsystem packages in the ROP ecosystem.
package rop

// Compensation model
//
// The remote server has no native multi-call transaction boundary. Every mutating call
// is durably committed server-side the instant it executes. The transaction engine
// therefore provides compensating, not preventive, atomicity: it records enough
// information per operation to approximately undo it (delete what was created, restore
// what was updated, re-create what was deleted), and on rollback replays those inverses
// in reverse chronological order. Two consequences follow and are part of the contract:
//  1. A concurrent external reader can observe intermediate state before a rollback
//     completes. ROP does not provide database-level isolation.
//  2. DELETE compensation re-creates records under new identifiers; foreign references
//     held elsewhere to the old identifiers are not repaired. The rollback report
//     surfaces the old and new identifiers so callers can reconcile.
