// Package counts resolves a party's local count for a criterion.
//
// Two modes are supported and chosen once at startup:
//
//   - ModeStore (default) looks the criterion up in the local candidates
//     table. A criterion without a row resolves to protocol.SentinelCount.
//     SQLite and PostgreSQL stores are supported.
//   - ModeAnalytics delegates to an external analytics command which writes a
//     JSON document of the form {"return value": {"size": N}}. Every call gets
//     its own output file, so concurrent sessions do not share state.
//
// Every failure to produce a count wraps protocol.ErrResolverFailure; a
// failing provider never yields a silent zero.
package counts
