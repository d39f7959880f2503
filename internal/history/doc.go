// Package history is the durable conversion ledger. It maps source
// fingerprints to completed conversion records so later batches can
// skip inputs that were already converted, and it aggregates space
// statistics for reporting.
package history
