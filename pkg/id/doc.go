// Package id provides time-ordered 128-bit identifiers used as job keys.
package id
