// Package collect runs on rank 0 only. A Collector receives exactly one
// report from every rank and places each partial result into an Assembler,
// which builds the full grid by global row index.
//
// Assembly never depends on arrival order. Any duplicate, missing, out of
// range or malformed row poisons the Assembler: it returns the same
// *types.ConsistencyError from then on and never yields a FullResult.
package collect
