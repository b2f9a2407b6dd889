// Package harness runs YAML scenarios against a real engine.
//
// A scenario seeds SQLite tables standing in for database views, then runs
// steps in order. A query step decodes GraphQL exactly as the HTTP server
// does and executes it through the cache, lowering, the SQLite adapter and
// projection. A write step replaces the rows of views, and a cascade step
// invalidates the cache. Each step may carry expectations:
//
//	name: rename-invalidates
//	schema: ../schemas/blog.json
//	seed:
//	  app.v_user:
//	    - {id: u1, name: Ada}
//	steps:
//	  - query: "{ users { name } }"
//	    expect: {data: {users: [{name: Ada}]}, cache_hit: false}
//	  - write:
//	      app.v_user:
//	        - {id: u1, name: Augusta}
//	  - query: "{ users { name } }"
//	    expect: {data: {users: [{name: Ada}]}, cache_hit: true}
//	  - cascade: {updated: [{type: User, id: u1}]}
//	    expect: {invalidated: 1}
//	  - query: "{ users { name } }"
//	    expect: {data: {users: [{name: Augusta}]}}
//	assertions:
//	  - {type: adapter_calls, count: 2}
//
// Writes do not invalidate on their own: the stale read after a write shows
// that cached results live until a cascade names their entities.
//
// Run returns the per-step trace; RunWithGolden also compares it with a
// goldie file under testdata/golden.
package harness
