package migration

// Migrations is the ordered chain of schema migrations this build of
// PeerVault knows how to apply. It starts empty: the on-disk schema
// introduced in this repository's first release is version 0 and
// needs no migration. Future schema changes append a Migration here,
// each one FromVersion+1 past the last.
var Migrations = []Migration{}
