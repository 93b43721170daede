// Package media defines the stream vocabulary shared by the catalog, fetch and
// mux packages: stream kinds, quality tiers, and the immutable
// StreamDescriptor produced by catalog resolution.
package media
