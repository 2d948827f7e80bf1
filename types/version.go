package types

// Version is the canonical project version.
// The CLI, the device server, the analyzer and the upload worker are
// released together and share this version.
const Version = "0.4.0"

// ProtocolVersion is the control channel protocol version.
// Kept in lockstep with Version.
const ProtocolVersion = Version
