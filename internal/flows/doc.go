// Package flows contains the pure-function orchestrators behind each
// recovery step.
//
// RunStep builds a request, sends it through the mutation retry loop and
// reports the outcome through metric and audit callbacks. RunMutation is the
// retry loop on its own. Both accept a typed dependency struct, so every
// branch can be tested with plain closures.
//
// # Architecture boundaries
//
// Flow functions coordinate the request builder, transport, retry policy,
// audit dispatcher and metrics. They do NOT own any of these resources;
// ownership stays with the Engine and its Workflows.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goRecovery (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency funcs.
package flows
