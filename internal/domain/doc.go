// Package domain defines the engine's model types and the boundary
// interfaces it consumes: entity stores, the activity store feeding the
// hype calculator, and the real-time fanout publisher. Packages under
// internal/adapter implement these interfaces; the engine packages never
// import an adapter directly.
package domain
