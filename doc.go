// Package promoflow provides an embeddable orchestration and
// state-synchronization engine for content-generation workflows that
// execute in an external agent system.
//
// Promoflow does not run workflow steps itself. It owns the state: it
// creates sessions, hands work to the agent system with a
// fire-and-forget dispatch, and keeps two views of every workflow in
// sync as progress webhooks arrive.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Orchestrator
//  2. Session
//  3. Dispatcher
//  4. ProgressUpdate
//  5. Progress
//
// # Orchestrator
//
// The Orchestrator is the only writer of workflow state. It provides
// APIs to:
//   - start workflows and regenerations
//   - ingest progress updates from the agent system
//   - read the current projection of a workflow
//   - cancel sessions and sweep old ones
//
// State lives in two places with different lifetimes. The durable store
// (SQLite or PostgreSQL) holds sessions and finished content bundles
// and is the source of truth. The cache (in-process or Redis) holds a
// denormalized projection for fast reads, sliding-window rate-limit
// state, and a best-effort pub/sub channel per session. The cache fails
// open: when it is unavailable every read falls back to the durable
// store and rate limiting admits traffic.
//
// # Session
//
// A Session records one invocation of the external pipeline: its
// status, the step it is on, and the step lists reported so far.
// Sessions move through PENDING and IN_PROGRESS to one of the terminal
// states COMPLETED, FAILED or CANCELLED, with optional approval states
// in between.
//
// # Dispatcher
//
// A Dispatcher hands work to the agent system. The built-in HTTP
// dispatcher POSTs the dispatch payload and treats a 200 or 202
// acknowledgement as success; the actual work happens asynchronously on
// the agent side. Dispatch runs detached from the caller: a failure
// marks the session FAILED but is never returned to the caller who
// started the workflow.
//
// # ProgressUpdate and Progress
//
// The agent system reports through a webhook carrying a ProgressUpdate,
// which overwrites the session's mutable state wholesale. Redelivered
// updates are therefore harmless. Progress is the read-side projection:
// session state joined with generated content, a completion percentage,
// and a time-remaining estimate.
//
// For a runnable server see cmd/promoflowd.
package promoflow
