// Package cascadebus shares cache invalidations between processes over NATS.
//
// A process that applies a cascade publishes it as a versioned JSON envelope:
//
//	{"version":"viewql/cascade/v1","origin":"<uuid>",
//	 "updated":[{"type":"User","id":"42"}],"deleted":[]}
//
// Every peer subscribed to the subject invalidates its own cache. A process
// ignores envelopes carrying its own origin, since it invalidated before
// publishing. Envelopes with another version are dropped and logged.
package cascadebus
