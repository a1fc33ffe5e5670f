// Package domain defines the core business types for the Eternal Sentinel
// liveness-and-release platform: users, polling configs, check-ins,
// trustees, final letters, the vault, and the audit trail.
//
// Everything here is a plain value object. The package imports nothing
// from the rest of internal/, holds no database or HTTP types, and keeps
// behavior limited to validation and pure predicate methods. Enums and
// their status vocabularies live here so handlers, workers, and the store
// all speak the same language.
package domain
