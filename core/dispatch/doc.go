// Package dispatch implements the real-time scheduling core: the dispatch
// loop over timed spawn events, worker selection under a travel-speed
// ceiling, admission control bounding concurrent visits, credential rotation
// with verification backpressure, and the two-phase cold-start procedure.
package dispatch
