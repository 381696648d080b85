// Package sources collects the raw inputs for one analysis pass: pipeline
// definition files from a DAG directory, task-log events and error lines from
// exported log files, and pre-aggregated run counters from an Airflow
// statsd-exporter endpoint. Each collector fails independently so one
// unreachable source never blocks the rest of the pass.
package sources
