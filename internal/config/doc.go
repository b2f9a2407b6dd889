// Package config loads the YAML file that wires a viewql server.
//
//	schema: ./blog.schema.json
//	database:
//	  target: postgresql
//	  dsn: ${DATABASE_URL}
//	  pool_size: 20
//	cache:
//	  capacity: 50000
//	  ttl: 2m
//	nats:
//	  url: ${NATS_URL:-}
//
// Every key not given keeps its Default value. ${VAR} references must be
// set, either in the environment or in a .env file beside the config file;
// ${VAR:-fallback} supplies a fallback.
package config
