// Package models defines the values that flow between pipeline stages.
package models

// Record is a single line read from the source.
// Records are never mutated once created.
type Record struct {
	// Offset is the position of the record in the source.
	Offset  int64
	Payload string
}

// Tokens is a Record after tokenization.
type Tokens struct {
	Offset int64
	Tokens []string
}
