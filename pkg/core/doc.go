// Copyright © 2024 Zyncio

// Package core drives whole runs over the configured targets: taking
// snapshots, pruning them, replicating datasets, and reporting. Each phase
// walks its targets, isolates their failures, and folds the outcomes into a
// run report. Store and transport access goes through injectable openers so
// the phases test against fakes.
package core
