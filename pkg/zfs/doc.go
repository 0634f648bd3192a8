// Package zfs adapts the zfs command line tool into a typed snapshot store.
//
// Every operation builds an argv for the zfs binary and executes it through
// a transport.Runner, so the same adapter serves local pools and pools
// behind SSH. Failures are classified from stderr into the model error
// taxonomy. The adapter never retries; retrying is the replication
// pipeline's business.
//
// NewDryRun wraps a store so mutating operations log what they would do and
// succeed without touching the pool. The zfstest subpackage holds an
// in-memory store for tests.
package zfs
