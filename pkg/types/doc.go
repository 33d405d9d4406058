// Package types holds the vocabulary shared by every layer of the
// communication stack: PDU descriptors, buffer request results, retry
// information, notification results, CAN identifiers and controller states.
package types

// Vocabulary version
const (
	VersionMajor = 1
	VersionMinor = 0
	VersionPatch = 0
)
