// Package serialization provides the deserializers that turn delivery bodies
// into typed messages: JSON for a single message type, a discriminator-based
// registry for queues carrying several types, and a raw pass-through.
package serialization
