// Package config describes one forestNET endpoint: what it listens on, which
// mode serves its requests, where sessions live and how long they last.
//
// A Config is assembled in layers, highest precedence last:
//
//  1. Default() values
//  2. a YAML file (Load)
//  3. FORESTNET_* environment variables (ApplyEnv)
//  4. command-line flags (applied by cmd/forestnet)
//
// and is treated as immutable once Validate has passed.
//
// # Example File
//
//	scheme: https
//	mode: rest
//	host: 0.0.0.0
//	port: 8443
//	certificate: /etc/forestnet/server.p12
//	certificate_password: changeit
//	session_directory: /var/lib/forestnet/sessions
//	session_max_age: PT30M
//	session_refresh: true
//	allow_source_list:
//	  - 10.0.0.0/8
//	  - 127.0.0.1
//
// # Durations
//
// Expiry values use ISO-8601 durations (PT30M, P1DT12H, PT0.5S). Plain Go
// durations such as "90s" are accepted as well; see ParseDuration.
package config
