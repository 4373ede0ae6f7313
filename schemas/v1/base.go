package v1

// BaseTemplate is the template the initial schema for this major version. The template expects variables to be
// passed using the schema.Config struct. Patches are applied on top of this base.
var BaseTemplate = `

{{- if and .SchemaName (ne .SchemaName "public") }}
SET search_path TO {{ .SchemaName }},public;
{{- end }}

-- =====================================================================================================================
-- PEERS
-- =====================================================================================================================

CREATE TABLE {{ .SchemaName | default "public"}}.peers (
    id           bigserial NOT NULL,
    address      text NOT NULL,
    blocked      smallint NOT NULL DEFAULT 0,
    last_seen    timestamp with time zone NOT NULL,
    last_scanned timestamp with time zone
);
ALTER TABLE ONLY {{ .SchemaName | default "public"}}.peers ADD CONSTRAINT peers_pkey PRIMARY KEY (id);
ALTER TABLE ONLY {{ .SchemaName | default "public"}}.peers ADD CONSTRAINT peers_address_key UNIQUE (address);

COMMENT ON TABLE {{ .SchemaName | default "public"}}.peers IS 'BRS network nodes discovered by the crawler. Doubles as the work queue of all workers.';
COMMENT ON COLUMN {{ .SchemaName | default "public"}}.peers.address IS 'Canonical host:port of the peer.';
COMMENT ON COLUMN {{ .SchemaName | default "public"}}.peers.blocked IS 'Block reason: 0 not blocked, 1 illegal address, 2 old ip, 10 unreachable.';
COMMENT ON COLUMN {{ .SchemaName | default "public"}}.peers.last_seen IS 'Last time any node reported this peer.';
COMMENT ON COLUMN {{ .SchemaName | default "public"}}.peers.last_scanned IS 'Last time a worker claimed this peer for a scan. NULL if never scanned.';

-- =====================================================================================================================
-- SCAN LOOKUPS
-- =====================================================================================================================

CREATE TABLE {{ .SchemaName | default "public"}}.scan_versions (
    id      bigserial NOT NULL,
    version text NOT NULL
);
ALTER TABLE ONLY {{ .SchemaName | default "public"}}.scan_versions ADD CONSTRAINT scan_versions_pkey PRIMARY KEY (id);
ALTER TABLE ONLY {{ .SchemaName | default "public"}}.scan_versions ADD CONSTRAINT scan_versions_version_key UNIQUE (version);

COMMENT ON TABLE {{ .SchemaName | default "public"}}.scan_versions IS 'Distinct software versions reported by peers.';

CREATE TABLE {{ .SchemaName | default "public"}}.scan_platforms (
    id       bigserial NOT NULL,
    platform text NOT NULL
);
ALTER TABLE ONLY {{ .SchemaName | default "public"}}.scan_platforms ADD CONSTRAINT scan_platforms_pkey PRIMARY KEY (id);
ALTER TABLE ONLY {{ .SchemaName | default "public"}}.scan_platforms ADD CONSTRAINT scan_platforms_platform_key UNIQUE (platform);

COMMENT ON TABLE {{ .SchemaName | default "public"}}.scan_platforms IS 'Distinct platform strings reported by peers.';

-- =====================================================================================================================
-- SCANS
-- =====================================================================================================================

CREATE TABLE {{ .SchemaName | default "public"}}.scans (
    id           bigserial NOT NULL,
    peer_id      bigint NOT NULL,
    result       smallint NOT NULL,
    rtt          integer,
    version_id   bigint,
    platform_id  bigint,
    peers_count  integer,
    block_height bigint,
    created_at   timestamp with time zone NOT NULL
);
ALTER TABLE ONLY {{ .SchemaName | default "public"}}.scans ADD CONSTRAINT scans_pkey PRIMARY KEY (id);
ALTER TABLE ONLY {{ .SchemaName | default "public"}}.scans ADD CONSTRAINT scans_peer_id_fkey FOREIGN KEY (peer_id) REFERENCES {{ .SchemaName | default "public"}}.peers(id) ON DELETE CASCADE;
ALTER TABLE ONLY {{ .SchemaName | default "public"}}.scans ADD CONSTRAINT scans_version_id_fkey FOREIGN KEY (version_id) REFERENCES {{ .SchemaName | default "public"}}.scan_versions(id);
ALTER TABLE ONLY {{ .SchemaName | default "public"}}.scans ADD CONSTRAINT scans_platform_id_fkey FOREIGN KEY (platform_id) REFERENCES {{ .SchemaName | default "public"}}.scan_platforms(id);

COMMENT ON TABLE {{ .SchemaName | default "public"}}.scans IS 'Append-only record of every scan attempt.';
COMMENT ON COLUMN {{ .SchemaName | default "public"}}.scans.result IS 'Scan result: 0 success, 1 unknown, 2 timeout, 3 refused, 4 redirect, 5 empty response, 6 invalid response, 7 illegal address.';
COMMENT ON COLUMN {{ .SchemaName | default "public"}}.scans.rtt IS 'Round trip time of the getInfo request in milliseconds. Only set on success.';
COMMENT ON COLUMN {{ .SchemaName | default "public"}}.scans.peers_count IS 'Number of peers reported by getPeers. Only set on success.';
COMMENT ON COLUMN {{ .SchemaName | default "public"}}.scans.block_height IS 'Chain height reported by getCumulativeDifficulty. Only set on success.';

-- =====================================================================================================================
-- CHECKS
-- =====================================================================================================================

CREATE TABLE {{ .SchemaName | default "public"}}.checks (
    id           bigserial NOT NULL,
    peer_id      bigint NOT NULL,
    ip           text NOT NULL,
    blocked      smallint NOT NULL DEFAULT 0,
    last_scanned timestamp with time zone NOT NULL
);
ALTER TABLE ONLY {{ .SchemaName | default "public"}}.checks ADD CONSTRAINT checks_pkey PRIMARY KEY (id);
ALTER TABLE ONLY {{ .SchemaName | default "public"}}.checks ADD CONSTRAINT checks_peer_id_ip_key UNIQUE (peer_id, ip);
ALTER TABLE ONLY {{ .SchemaName | default "public"}}.checks ADD CONSTRAINT checks_peer_id_fkey FOREIGN KEY (peer_id) REFERENCES {{ .SchemaName | default "public"}}.peers(id) ON DELETE CASCADE;

COMMENT ON TABLE {{ .SchemaName | default "public"}}.checks IS 'Resolved IPs of each peer and whether they answered when last observed.';
COMMENT ON COLUMN {{ .SchemaName | default "public"}}.checks.blocked IS 'Block reason: 0 answered, 2 the peer no longer resolves to this ip, 10 unreachable.';
`
