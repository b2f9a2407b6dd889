// Package gqlreq turns a GraphQL request into a root-field query.
//
//	query($min: Int) {
//	  adults: users(where: {age: {gte: $min}}, limit: 10) {
//	    id
//	    name
//	    ...Contact
//	  }
//	}
//	fragment Contact on User { email }
//
// decodes to root "users" (type User, its view, list) with the where input
// lowered to a predicate tree and a flat selection {id name email}. Only
// query operations with one root field are accepted. Selections are not
// checked against the schema here; the projector rejects unknown fields.
package gqlreq
