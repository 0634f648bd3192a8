// Package model describes the base objects manipulated by zync.
//
// The object model is composed of:
//
//	Datasets:
//	  A dataset is a named, hierarchical unit of filesystem state on a ZFS
//	  pool, local or behind an SSH endpoint. Datasets are snapshotted,
//	  cleaned and replicated.
//
//	Snapshots:
//	  An immutable point-in-time view of a dataset, identified by a label
//	  and a store-assigned guid. Snapshots of one dataset are totally
//	  ordered by creation time.
//
//	Retention policies:
//	  Per-period keep counts (frequent, hourly, daily, weekly, monthly,
//	  yearly) deciding which snapshots survive a clean phase.
//
//	Replication targets:
//	  A source dataset with one or more destinations, transfer flags and a
//	  retry budget, as declared in the configuration.
package model
