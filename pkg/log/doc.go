/*
Package log provides structured logging for PeerVault using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  Global Logger (zerolog, initialized via log.Init())      │
	│       │                                                    │
	│  Config: Level (debug/info/warn/error)                     │
	│          Format (JSON or console)                          │
	│          Output (stdout, file, custom writer)               │
	│       │                                                    │
	│  Child loggers: WithComponent, WithVault, WithPeer,         │
	│                 WithPath — each adds one structured field  │
	└────────────────────────────────────────────────────────────┘

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	vlog := log.WithVault(vaultID)
	vlog.Info().Str("path", "/notes.txt").Msg("file created")

	plog := log.WithPeer(peerID)
	plog.Warn().Err(err).Msg("sync attempt failed, retrying")

# Conventions

Every long-running component (PeerManager, SyncSession, GarbageCollector)
derives its logger once at construction time via one of the With*
helpers rather than calling log.Logger directly, so every line it emits
carries the vault/peer/path context needed to trace a single sync
session or file's history across a multi-peer mesh without grepping
timestamps.
*/
package log
