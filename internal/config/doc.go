// Package config handles configuration loading for querynox.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from QUERYNOX_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/querynox/gateway.yaml
//  3. ~/.config/querynox/gateway.yaml
//
// Files ending in .toml are decoded as TOML; everything else is YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	providers:
//	  openai:
//	    api_key: "${OPENAI_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Durations use Go's time.ParseDuration syntax:
//
//	generation:
//	  timeout: "2m"
//	  save_timeout: "5s"
//
// # Sections
//
//	server:      http_addr, grpc_addr
//	database:    path, driver (sqlite | sqlite3)
//	auth:        jwt_secret (empty disables bearer auth)
//	providers:   name -> base_url, api_key, timeout
//	models:      catalog entries bound to a provider
//	search:      endpoint, api_key, max_results, retries, timeout
//	extraction:  max_files, max_file_bytes, max_chars_per_file
//	generation:  timeout, save_timeout
//	logging:     level, format (text | json)
//	metrics:     enabled, path
package config
