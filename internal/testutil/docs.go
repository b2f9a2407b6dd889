package testutil

import (
	"github.com/roach88/viewql/internal/adapter"
	"github.com/roach88/viewql/internal/auth"
)

// BlogUsers returns fresh user documents ordered by id: u1 (Ada, two posts),
// u2 (Grace, no profile) and u3 (Linus, inactive).
func BlogUsers() []adapter.Document {
	return []adapter.Document{
		{
			"id":     "u1",
			"name":   "Ada",
			"email":  "ada@example.com",
			"age":    36,
			"active": true,
			"tags":   []any{"math", "engines"},
			"profile": map[string]any{
				"city": "London",
				"ssn":  "111-11-1111",
			},
			"posts": []any{
				map[string]any{"id": "p1", "title": "Notes", "views": 120, "owner_id": "u1", "notes": "draft"},
				map[string]any{"id": "p2", "title": "Engines", "views": 40, "owner_id": "u1"},
			},
		},
		{
			"id":     "u2",
			"name":   "Grace",
			"email":  "grace@example.com",
			"age":    45,
			"active": true,
			"tags":   []any{"compilers"},
			"posts": []any{
				map[string]any{"id": "p3", "title": "COBOL", "views": 300, "owner_id": "u2", "notes": "final"},
			},
		},
		{
			"id":     "u3",
			"name":   "Linus",
			"active": false,
			"tags":   []any{},
			"posts":  []any{},
		},
	}
}

// Admin holds the admin role.
func Admin() auth.UserContext {
	return auth.UserContext{UserID: "admin", TenantID: "acme", Roles: []string{"admin"}}
}

// Reader holds no roles.
func Reader() auth.UserContext {
	return auth.UserContext{UserID: "reader", TenantID: "acme", Roles: []string{"reader"}}
}

// Owner is a reader whose user id is id.
func Owner(id string) auth.UserContext {
	return auth.UserContext{UserID: id, TenantID: "acme", Roles: []string{"reader"}}
}
