// Package store defines the RunStore contract the kernel persists through —
// appending enriched events and saving/loading resumable session snapshots —
// together with four implementations: in-memory (tests and ephemeral runs),
// Redis, SQL via GORM (sqlite, mysql, postgres), and MongoDB.
//
// Durable resume across process restarts requires one of the crash-safe
// backends; the in-memory store only survives the process.
package store
