package types

// Version is the canonical project version.
// The CLI, the journal frame format, and the SOAP user agent all report it.
const Version = "0.3.0"

// JournalVersion is the journal frame format version written by journal.Writer.
// Readers reject frames whose major version differs.
const JournalVersion = "0.3.0"
