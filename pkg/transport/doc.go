// Package transport decides where the two halves of a replication run and
// how to reach them.
//
// A Runner executes snapshot-store commands on one endpoint: in-process for
// local datasets, through an SSH session for remote ones. Resolve inspects
// the source and destination locators plus the supplied credentials and
// yields an execution plan holding one runner per side, enforcing the
// credential topology rules (single key when one side is remote, two
// explicit keys when both are, none when both are local).
package transport
