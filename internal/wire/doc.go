// Package wire encodes the payloads that cross rank boundaries and the grid
// artifact handed to the external renderer. Both use msgpack.
//
// A Report carries its rows as a map keyed by global row index, so the
// coordinator never depends on the order in which payloads arrive.
package wire
