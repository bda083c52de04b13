// Package config defines configuration for the sceneslurp CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (SCENESLURP_ prefix)
//   - YAML configuration file
//
// Later sources override earlier ones through Merge; zero values never
// override. Sizes accept units ("1MiB") and durations Go syntax ("30s").
//
// # Example
//
//	api: m2m
//	username: alice
//	token_cache: gs://acquisition/token.yaml
//	dir: /data/scenes
//	ledger: /data/sceneslurp.db
//	archive: s3://scene-archive?region=eu-west-1
//	workers: 4
//	stagger: 5s
//	task_timeout: 1h
//	chunk_size: 1MiB
//	download:
//	  attempts: 3
//	  pause: 30s
//	order:
//	  username: alice
//	  batch_size: 10
//	  products: [sr]
package config
