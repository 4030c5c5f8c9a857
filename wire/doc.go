// Package wire defines the file transfer protocol messages and their binary
// codec.
//
// Every message travels as a single frame: a 4-byte big-endian length prefix
// followed by a one-byte tag and the variant payload. Size ceilings are
// enforced at decode time, before any payload allocation: control messages
// are capped at MaxControlFrame and chunk frames at MaxChunkFrame. A frame
// over the ceiling is a protocol error; the session must fail and close the
// connection.
package wire
