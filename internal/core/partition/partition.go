package partition

import "hash/fnv"

// Count is the fixed number of logical partitions for raw data, slice and outbox rows.
// Changing it reshuffles every stored row, so it is set once per deployment.
const Count = 256

// For returns the partition of an entity within a tenant.
// The same (tenantID, entityKey) always maps to the same partition.
func For(tenantID, entityKey string) int {
	h := fnv.New32a()
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write([]byte(entityKey))
	return int(h.Sum32() % Count)
}
