// Package cache holds projected query responses keyed by fingerprint and
// drops them when a mutation touches an entity they were built from.
//
// The forward map is sharded over expirable LRUs, which bound capacity and
// lifetime. A sharded reverse index maps entity keys ("User:42", "User:*") to
// the fingerprints depending on them.
//
// A result computed while an invalidation runs must not be cached. Callers
// read Generation before querying and pass it to Put; each invalidation stamps
// the entities it touched with a new generation, and Put refuses a result
// whose dependencies were stamped after it began:
//
//	gen := c.Generation()
//	value, deps := compute()
//	c.Put(fp, value, deps, gen) // false if deps changed meanwhile
//
// Stamps are bounded. Pruning old stamps raises a floor below which every
// Put is refused, so pruning costs a miss, never a stale hit.
package cache
