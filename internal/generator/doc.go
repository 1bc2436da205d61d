// Package generator produces formatted license key strings from a named
// template (Spec). A key is built from a number of chunks of characters
// drawn uniformly at random from the template charset, joined by a
// separator and wrapped by optional prefix/suffix affixes.
//
// Batch generation guarantees exact-count, duplicate-free output: the
// requested amount is checked against the combinatorial capacity of the
// template before any generation happens, and the batch is topped up
// recursively until it holds exactly the requested number of distinct
// strings.
package generator
