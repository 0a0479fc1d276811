// Package plugin defines the contract shapes shared by every adapter in this
// repository: credentials, subscriptions, typed output messages, trigger
// dispatch results, and the unified error model the host expects.
//
// Adapters never import each other; they only import this package and the
// internal helpers. The host runtime loads adapters through the Registry.
package plugin
