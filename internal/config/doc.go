// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

/*
Package config loads and validates the server configuration.

Sources are layered with Koanf v2, later layers overriding earlier ones:

 1. Built-in defaults (see defaultConfig)
 2. YAML config file: ./config.yaml, ./config.yml, /etc/ostiarius/config.yaml,
    or the path in OSTIARIUS_CONFIG
 3. Environment variables through an explicit OSTIARIUS_* map; unmapped
    variables are ignored

A minimal production config:

	auth:
	  jwtSecret: enc:BASE64...             # or plaintext
	backingStore:
	  kind: remote
	  baseURL: https://sheets.example.com/v1
	  credentials: enc:BASE64...
	geocode:
	  baseURL: https://geocode.example.com
	  apiKey: enc:BASE64...

Secrets may be stored encrypted at rest with AES-256-GCM: values carrying
the "enc:" prefix are decrypted during Load using a key derived (scrypt)
from OSTIARIUS_ENCRYPTION_KEY. Plaintext values pass through unchanged, so
development setups need no key material.

Interval keys ending in "Ms" are millisecond integers; the typed accessors
(FlushConfig.WriterInterval and friends) convert them to time.Duration.

Load validates the result before returning it. A process with an invalid
configuration fails at startup rather than limping along.

See Also:

  - internal/logging: consumes LoggingConfig at process start
  - internal/tabular: backed by BackingStoreConfig
  - cmd/ostiarius-server: wires Config into every component
*/
package config
