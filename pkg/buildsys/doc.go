// Package buildsys implements the task graph behind sitebuild: leaf tasks, series and parallel
// composition, an immutable task registry, the runner and a file watcher that re-runs tasks on change.
// The actual asset transformations live in the pipeline package; buildsys only orchestrates them.
package buildsys
