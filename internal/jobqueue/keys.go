package jobqueue

import (
	"encoding/binary"
	"fmt"
)

// Key prefixes for job queue data structures
const (
	prefixJob      = "job/"       // Job records
	prefixReady    = "ready/"     // Ready index: jobs eligible for dequeue
	prefixLease    = "lease/"     // Active leases
	prefixLeaseIdx = "lease_idx/" // Lease expiry index
)

// queuePrefix returns the base prefix for a queue.
// Format: jq/{queue}/
func queuePrefix(queue string) string {
	return fmt.Sprintf("jq/%s/", queue)
}

// jobKey returns the key for a job record.
// Format: jq/{queue}/job/{id}
func jobKey(queue, id string) []byte {
	return []byte(queuePrefix(queue) + prefixJob + id)
}

// readyKey returns the ready index key. ready_ms orders dequeue (earliest
// ready first); the id suffix keeps entries at the same millisecond in
// creation order.
// Format: jq/{queue}/ready/{ready_ms 8B BE}/{id}
func readyKey(queue string, readyMs int64, id string) []byte {
	prefix := queuePrefix(queue) + prefixReady
	key := make([]byte, len(prefix)+8+len(id))
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(readyMs))
	copy(key[len(prefix)+8:], id)
	return key
}

// leaseKey returns the lease record key.
// Format: jq/{queue}/lease/{id}
func leaseKey(queue, id string) []byte {
	return []byte(queuePrefix(queue) + prefixLease + id)
}

// leaseIdxKey returns the lease expiry index key, scanned by the reclaimer.
// Format: jq/{queue}/lease_idx/{expires_ms 8B BE}/{id}
func leaseIdxKey(queue string, expiresMs int64, id string) []byte {
	prefix := queuePrefix(queue) + prefixLeaseIdx
	key := make([]byte, len(prefix)+8+len(id))
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(expiresMs))
	copy(key[len(prefix)+8:], id)
	return key
}

// keyRange returns inclusive-lower/exclusive-upper bounds for a prefix scan.
func keyRange(prefix string) ([]byte, []byte) {
	start := []byte(prefix)
	end := make([]byte, len(prefix)+1)
	copy(end, prefix)
	end[len(prefix)] = 0xFF
	return start, end
}

// timeKeySuffix splits a {ms 8B}/{id} index key into its timestamp and id,
// given the scan prefix length. ok is false for malformed keys.
func timeKeySuffix(key []byte, prefixLen int) (ms int64, id string, ok bool) {
	if len(key) < prefixLen+8+1 {
		return 0, "", false
	}
	ms = int64(binary.BigEndian.Uint64(key[prefixLen : prefixLen+8]))
	id = string(key[prefixLen+8:])
	return ms, id, true
}
