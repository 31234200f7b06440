// Package protocol owns the CASTV2 wire contract shared by every layer.
//
// Ownership boundary:
// - error taxonomy (this package)
// - envelope addressing and protobuf codec (envelope)
// - length-prefixed framing (frame)
// - JSON body parse/build primitives (jsonmsg)
// - well-known namespaces and message types (this package)
package protocol
