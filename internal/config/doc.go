// Package config defines configuration for the fileslide streamer.
//
// Configuration is layered, later sources winning:
//   - Defaults
//   - YAML configuration file
//   - Environment variables (FILESLIDE_ prefix, e.g. FILESLIDE_REDIS_ADDRESS)
//   - Command-line flags
//
// Byte sizes accept units ("512MiB", "1GB") and durations use Go syntax
// ("30s", "168h").
//
// redis.prefix defaults to empty, so checksum entries are keyed by the bare
// URI. Set it only when the Redis database is not shared with other
// fileslide deployments that read the same keys.
//
// # Example
//
//	listen: ":9292"
//	upstream_api: https://api.example.com
//	redis:
//	  address: redis:6379
//	checksum:
//	  chunk_size: 512MiB
//	  timeout: 10m
//	  claim_ttl: 15m
//	retry:
//	  attempts: 5
//	  backoff: 1s
//	blob:
//	  enabled: true
package config
