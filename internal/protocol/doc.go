// Package protocol implements the Jiecang-style desk wire format shared by every
// supported desk family.
//
// A frame on the wire is:
//
//	sync[2] | opcode[1] | length[1] | payload[length] | checksum[1] | 0x7E
//
// The checksum is the unsigned 8-bit sum of opcode, length and every payload
// byte. Sync bytes differ per direction and per desk family, so both Encode and
// Decode take them as a parameter; the package itself holds no state.
package protocol
