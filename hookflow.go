// Package hookflow is a collection of independent adapters between a
// plugin-host platform and external HTTP APIs: OAuth credential providers,
// LLM vendor wire-format adapters, callable tools, webhook trigger
// dispatchers and inbound endpoint extensions.
//
// Each adapter family lives in its own tree and shares only the contract
// shapes in the plugin package plus the internal HTTP, cache and
// observability plumbing:
//
//	providers/   OAuth / credential validation adapters
//	models/      chat, embedding, rerank and TTS vendor codecs
//	tools/       callable tool adapters
//	triggers/    webhook dispatchers with signature verification
//	extensions/  inbound HTTP endpoint adapters
//	cmd/hookflow the local host binary mounting triggers and extensions
//
// Adapters are wired into a host through a plugin.Registry; nothing in this
// module keeps persistent state beyond short-lived access-token caches.
package hookflow

// Version is the module version, overridden at build time for the host
// binary via cmd/hookflow.
const Version = "0.1.0"
