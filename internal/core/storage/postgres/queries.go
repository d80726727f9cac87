package postgres

// SQL for the pipeline tables. Column lists are shared by the scan helpers and
// must stay in the same order.

const (
	rawDataColumns = `tenant_id, entity_key, version, schema_id, schema_version, payload, payload_hash, created_at`
	sliceColumns   = `tenant_id, entity_key, slice_type, version, data, source_raw_data_version, hash, rule_set_id, rule_set_version, created_at`
	outboxColumns  = `id, aggregate_type, aggregate_id, event_type, payload, status, retry_count,
		claimed_at, claimed_by, priority, failure_reason, next_retry_at, created_at, processed_at`
)

const (
	// queryLockEntity serializes raw data writers of one entity for the rest of the transaction.
	queryLockEntity = `SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))`

	// queryInsertRawData inserts only when no version at or above $3 exists,
	// which keeps versions strictly increasing per entity.
	queryInsertRawData = `
		INSERT INTO raw_data (
			tenant_id, entity_key, version, partition_id, schema_id,
			schema_version, payload, payload_hash, created_at
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9
		WHERE NOT EXISTS (
			SELECT 1 FROM raw_data
			WHERE tenant_id = $1 AND entity_key = $2 AND version >= $3
		)
	`

	queryGetRawData = `
		SELECT ` + rawDataColumns + `
		FROM raw_data
		WHERE tenant_id = $1 AND entity_key = $2 AND version = $3
	`

	queryGetLatestRawData = `
		SELECT ` + rawDataColumns + `
		FROM raw_data
		WHERE tenant_id = $1 AND entity_key = $2
		ORDER BY version DESC
		LIMIT 1
	`

	queryGetPreviousRawData = `
		SELECT ` + rawDataColumns + `
		FROM raw_data
		WHERE tenant_id = $1 AND entity_key = $2 AND version < $3
		ORDER BY version DESC
		LIMIT 1
	`
)

const (
	queryInsertSlice = `
		INSERT INTO slices (
			tenant_id, entity_key, slice_type, version, partition_id, data,
			source_raw_data_version, hash, rule_set_id, rule_set_version, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tenant_id, entity_key, slice_type, version) DO NOTHING
	`

	queryGetLatestSlice = `
		SELECT ` + sliceColumns + `
		FROM slices
		WHERE tenant_id = $1 AND entity_key = $2 AND slice_type = $3
		ORDER BY version DESC
		LIMIT 1
	`

	queryGetLatestSlices = `
		SELECT DISTINCT ON (slice_type) ` + sliceColumns + `
		FROM slices
		WHERE tenant_id = $1 AND entity_key = $2
		ORDER BY slice_type, version DESC
	`

	queryGetSlicesByVersion = `
		SELECT DISTINCT ON (slice_type) ` + sliceColumns + `
		FROM slices
		WHERE tenant_id = $1 AND entity_key = $2 AND source_raw_data_version = $3
		ORDER BY slice_type, version DESC
	`
)

const (
	queryInsertIndexEntry = `
		INSERT INTO inverted_index (
			tenant_id, index_type, index_value, entity_key, kind, source_index, max_fanout
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, index_type, index_value, entity_key) DO NOTHING
	`

	queryDeleteOwnedIndexEntries = `
		DELETE FROM inverted_index
		WHERE tenant_id = $1 AND entity_key = $2
	`

	queryQueryIndex = `
		SELECT entity_key
		FROM inverted_index
		WHERE tenant_id = $1 AND index_type = $2 AND index_value = $3
		ORDER BY entity_key ASC
		LIMIT $4
	`

	queryCountIndex = `
		SELECT COUNT(*)
		FROM inverted_index
		WHERE tenant_id = $1 AND index_type = $2 AND index_value = $3
	`
)

const (
	queryInsertOutbox = `
		INSERT INTO outbox (
			id, aggregate_type, aggregate_id, event_type, payload, status,
			retry_count, priority, next_retry_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`

	// queryClaimOutbox claims due entries without blocking on rows other
	// workers are claiming concurrently.
	queryClaimOutbox = `
		UPDATE outbox
		SET status = 'PROCESSING', claimed_by = $1, claimed_at = $2
		WHERE id IN (
			SELECT id FROM outbox
			WHERE status = 'PENDING'
			  AND (next_retry_at IS NULL OR next_retry_at <= $2)
			ORDER BY COALESCE(priority, 0) DESC, created_at ASC, id ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + outboxColumns

	queryMarkOutboxProcessed = `
		UPDATE outbox
		SET status = 'PROCESSED', processed_at = $3
		WHERE id = $1 AND status = 'PROCESSING' AND claimed_by = $2
	`

	queryMarkOutboxRetry = `
		UPDATE outbox
		SET status = 'PENDING', retry_count = $3, next_retry_at = $4, failure_reason = $5,
		    claimed_at = NULL, claimed_by = NULL
		WHERE id = $1 AND status = 'PROCESSING' AND claimed_by = $2
	`

	queryMoveOutboxToDLQ = `
		UPDATE outbox
		SET status = 'DLQ', retry_count = $3, failure_reason = $4,
		    claimed_at = NULL, claimed_by = NULL
		WHERE id = $1 AND status = 'PROCESSING' AND claimed_by = $2
	`

	queryReleaseOutbox = `
		UPDATE outbox
		SET status = 'PENDING', claimed_at = NULL, claimed_by = NULL
		WHERE claimed_by = $1 AND status = 'PROCESSING' AND id = ANY($2)
	`

	queryDeadLetterStaleOutbox = `
		UPDATE outbox
		SET status = 'DLQ', retry_count = retry_count + 1, failure_reason = 'claim expired',
		    claimed_at = NULL, claimed_by = NULL
		WHERE status = 'PROCESSING' AND claimed_at < $1 AND retry_count + 1 >= $2
	`

	queryReleaseStaleOutbox = `
		UPDATE outbox
		SET status = 'PENDING', retry_count = retry_count + 1, failure_reason = 'claim expired',
		    next_retry_at = NULL, claimed_at = NULL, claimed_by = NULL
		WHERE status = 'PROCESSING' AND claimed_at < $1
	`

	// queryReplayOutbox grants a DLQ entry a fresh retry budget.
	queryReplayOutbox = `
		UPDATE outbox
		SET status = 'PENDING', retry_count = 0, next_retry_at = NULL
		WHERE id = $1 AND status = 'DLQ'
	`

	queryGetOutbox = `SELECT ` + outboxColumns + ` FROM outbox WHERE id = $1`

	// queryListOutbox lists entries of status $1 (any status when empty); a NULL limit lists all.
	queryListOutbox = `
		SELECT ` + outboxColumns + `
		FROM outbox
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`
)
