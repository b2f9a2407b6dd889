// Package projection shapes stored documents into responses.
//
// A Projector walks a SelectionSet over a document, consulting an auth.Mask
// for every field. Denied fields are left out of the output entirely, while
// selected fields missing from the document come back as null, so a client
// cannot tell a denied field from one it never asked for.
//
// ProjectWithEntities also returns the (type, id) of every document the
// output was read from, which the cache uses as invalidation dependencies.
package projection
