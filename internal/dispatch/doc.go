// Package dispatch streams one audit event to every destination configured
// for its scope chain.
//
// A dispatch runs in fixed stages:
//   - resolve destinations for the installation and, when present, the site
//   - format a payload for every target
//   - take one admission slot per target, all at once or not at all
//   - deliver every target concurrently, releasing each slot on completion
//
// Nothing is sent until resolution and formatting have succeeded for every
// target. A failing destination never stops delivery to the others, and
// successful deliveries are not rolled back when another one fails.
//
// Failure handling:
//   - registry errors and missing formatters are returned as-is
//   - admission refusal is a *StreamingError whose cause is
//     admission.ErrAdmissionExceeded; the event is dropped
//   - delivery failures are collected into one *StreamingError
//
// There are no retries and no deduplication.
package dispatch
