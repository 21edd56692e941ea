// Package ops sequences device service sessions into the three host
// operations: EnableJIT, StagePackage and InstallPackage.
//
// Each operation acquires its own device handle and sessions, runs its steps
// in order, stops at the first failure and releases everything before it
// returns. Nothing is retried and nothing is shared between calls. Every
// operation funnels its outcome through one place that logs the error once
// and maps it to a Status.
package ops
