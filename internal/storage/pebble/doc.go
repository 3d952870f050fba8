// Package pebblestore wraps a Pebble database with the durability policy and
// batch helpers shared by the job queue and expirable-record stores.
package pebblestore
