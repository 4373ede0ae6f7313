package v1

// Schema patch 1 adds indexes that keep peer claiming and per-peer scan lookups fast as the tables grow.

func init() {
	patches.Register(
		1,
		`
	CREATE INDEX IF NOT EXISTS peers_claim_idx ON {{ .SchemaName | default "public"}}.peers
		USING btree (last_scanned NULLS FIRST, last_seen) WHERE blocked = 0;

	CREATE INDEX IF NOT EXISTS scans_peer_id_created_at_idx ON {{ .SchemaName | default "public"}}.scans
		USING btree (peer_id, created_at DESC);

	CREATE INDEX IF NOT EXISTS scans_created_at_idx ON {{ .SchemaName | default "public"}}.scans
		USING btree (created_at DESC);
`)
}
