// Centralised Cypher repository.
//
// Naming:
//   schema*    constraints & indexes (run once at startup)
//   ingest*    transaction write path
//   query*     feature-extraction reads
//   gds*       Graph Data Science batch algorithms
//   fallback*  pure-Cypher approximations when GDS is absent
//   detect*    collusion-pattern queries
//   viz*       visualisation exports
//   maint*     maintenance helpers
//
// Graph schema:
//   Nodes  :User :Device :IP :Transaction :Cluster
//   Edges  :SENT :RECEIVED_BY :USES_DEVICE :ACCESSED_FROM
//          :TRANSFERRED_TO (User→User aggregate shortcut)
//          :MEMBER_OF (User→Cluster)
package graph

var schemaConstraints = []string{
	"CREATE CONSTRAINT user_id_uniq   IF NOT EXISTS FOR (u:User)        REQUIRE u.user_id     IS UNIQUE",
	"CREATE CONSTRAINT device_uniq    IF NOT EXISTS FOR (d:Device)      REQUIRE d.device_id   IS UNIQUE",
	"CREATE CONSTRAINT tx_id_uniq     IF NOT EXISTS FOR (t:Transaction) REQUIRE t.tx_id       IS UNIQUE",
	"CREATE CONSTRAINT ip_uniq        IF NOT EXISTS FOR (i:IP)          REQUIRE i.ip_address  IS UNIQUE",
	"CREATE CONSTRAINT cluster_uniq   IF NOT EXISTS FOR (c:Cluster)     REQUIRE c.cluster_id  IS UNIQUE",
}

var schemaIndexes = []string{
	"CREATE INDEX idx_user_risk      IF NOT EXISTS FOR (u:User)        ON (u.risk_score)",
	"CREATE INDEX idx_user_dormant   IF NOT EXISTS FOR (u:User)        ON (u.is_dormant)",
	"CREATE INDEX idx_user_active    IF NOT EXISTS FOR (u:User)        ON (u.last_active)",
	"CREATE INDEX idx_tx_ts          IF NOT EXISTS FOR (t:Transaction) ON (t.timestamp)",
	"CREATE INDEX idx_tx_risk        IF NOT EXISTS FOR (t:Transaction) ON (t.risk_score)",
	"CREATE INDEX idx_device_score   IF NOT EXISTS FOR (d:Device)      ON (d.device_score)",
	"CREATE INDEX idx_cluster_risk   IF NOT EXISTS FOR (c:Cluster)     ON (c.risk_level)",
	"CREATE INDEX idx_ip_asn         IF NOT EXISTS FOR (i:IP)          ON (i.asn)",
}

// Hot ingest path. MATCH (not MERGE) on pre-seeded users keeps the write
// lock-free; no aggregation math here, the batch analyzer owns it.
const ingestTransaction = `
MATCH (s:User {user_id: $sender_id})
MATCH (r:User {user_id: $receiver_id})
MERGE (d:Device {device_id: $device_id})
  ON CREATE SET d.device_score    = 0.0,
                d.account_count   = 0,
                d.os              = $device_os,
                d.device_type     = $device_type,
                d.app_version     = $app_version,
                d.capability_mask = $capability_mask,
                d.created_at      = datetime()
  ON MATCH SET  d.os              = coalesce($device_os, d.os),
                d.device_type     = coalesce($device_type, d.device_type),
                d.app_version     = coalesce($app_version, d.app_version),
                d.capability_mask = coalesce($capability_mask, d.capability_mask)

MERGE (tx:Transaction {tx_id: $tx_id})
  ON CREATE SET tx.amount          = $amount,
                tx.timestamp       = datetime($timestamp),
                tx.currency        = $currency,
                tx.txn_type        = $txn_type,
                tx.channel         = $channel,
                tx.credential_type = $credential_type,
                tx.credential_sub  = $credential_sub_type,
                tx.receiver_type   = $receiver_type,
                tx.mcc_code        = $mcc_code,
                tx.status          = 'PENDING',
                tx.risk_score      = 0.0

MERGE (s)-[:SENT]->(tx)
MERGE (tx)-[:RECEIVED_BY]->(r)
MERGE (s)-[:USES_DEVICE]->(d)

MERGE (s)-[edge:TRANSFERRED_TO]->(r)
  ON CREATE SET edge.total_amount = $amount,
                edge.tx_count     = 1,
                edge.last_tx      = datetime($timestamp)
  ON MATCH  SET edge.total_amount = edge.total_amount + $amount,
                edge.tx_count     = edge.tx_count + 1,
                edge.last_tx      = datetime($timestamp)

SET s.last_active = datetime($timestamp),
    s.is_dormant  = false,
    s.upi_id      = coalesce($sender_upi_id, s.upi_id)
SET r.upi_id      = coalesce($receiver_upi_id, r.upi_id)

RETURN tx.tx_id AS tx_id
`

// Safe ingest auto-creates accounts on first appearance.
const ingestTransactionSafe = `
MERGE (s:User {user_id: $sender_id})
  ON CREATE SET s.created_at    = datetime(),
                s.last_active   = datetime($timestamp),
                s.tx_count      = 0,
                s.total_outflow = 0.0,
                s.avg_tx_amount = 0.0,
                s.std_tx_amount = 0.0,
                s.is_dormant    = false,
                s.risk_score    = 0.0,
                s.upi_id        = $sender_upi_id
  ON MATCH SET  s.last_active   = datetime($timestamp),
                s.is_dormant    = false,
                s.upi_id        = coalesce($sender_upi_id, s.upi_id)

MERGE (r:User {user_id: $receiver_id})
  ON CREATE SET r.created_at    = datetime(),
                r.last_active   = datetime($timestamp),
                r.tx_count      = 0,
                r.total_outflow = 0.0,
                r.avg_tx_amount = 0.0,
                r.std_tx_amount = 0.0,
                r.is_dormant    = false,
                r.risk_score    = 0.0,
                r.upi_id        = $receiver_upi_id
  ON MATCH SET  r.upi_id        = coalesce($receiver_upi_id, r.upi_id)

MERGE (d:Device {device_id: $device_id})
  ON CREATE SET d.device_score    = 0.0,
                d.account_count   = 0,
                d.os              = $device_os,
                d.device_type     = $device_type,
                d.app_version     = $app_version,
                d.capability_mask = $capability_mask,
                d.created_at      = datetime()
  ON MATCH SET  d.os              = coalesce($device_os, d.os),
                d.device_type     = coalesce($device_type, d.device_type),
                d.app_version     = coalesce($app_version, d.app_version),
                d.capability_mask = coalesce($capability_mask, d.capability_mask)

MERGE (tx:Transaction {tx_id: $tx_id})
  ON CREATE SET tx.amount          = $amount,
                tx.timestamp       = datetime($timestamp),
                tx.currency        = $currency,
                tx.txn_type        = $txn_type,
                tx.channel         = $channel,
                tx.credential_type = $credential_type,
                tx.credential_sub  = $credential_sub_type,
                tx.receiver_type   = $receiver_type,
                tx.mcc_code        = $mcc_code,
                tx.status          = 'PENDING',
                tx.risk_score      = 0.0

MERGE (s)-[:SENT]->(tx)
MERGE (tx)-[:RECEIVED_BY]->(r)
MERGE (s)-[:USES_DEVICE]->(d)

MERGE (s)-[edge:TRANSFERRED_TO]->(r)
  ON CREATE SET edge.total_amount = $amount,
                edge.tx_count     = 1,
                edge.last_tx      = datetime($timestamp)
  ON MATCH  SET edge.total_amount = edge.total_amount + $amount,
                edge.tx_count     = edge.tx_count + 1,
                edge.last_tx      = datetime($timestamp)

RETURN tx.tx_id AS tx_id
`

const ingestIP = `
MERGE (i:IP {ip_address: $ip_address})
  ON CREATE SET i.geo_lat     = $geo_lat,
                i.geo_lon     = $geo_lon,
                i.city        = $city,
                i.country     = $country,
                i.asn         = $asn,
                i.asn_type    = $asn_type,
                i.asn_org     = $asn_org,
                i.asn_country = $asn_country
  ON MATCH SET  i.asn         = coalesce($asn, i.asn),
                i.asn_type    = coalesce($asn_type, i.asn_type),
                i.asn_org     = coalesce($asn_org, i.asn_org),
                i.asn_country = coalesce($asn_country, i.asn_country)
WITH i
MATCH (u:User {user_id: $user_id})
MERGE (u)-[:ACCESSED_FROM]->(i)
`

const updateTxRisk = `
MATCH (tx:Transaction {tx_id: $tx_id})
SET tx.risk_score = $risk_score,
    tx.status     = $status,
    tx.reason     = $reason,
    tx.sender_lat = $sender_lat,
    tx.sender_lon = $sender_lon
RETURN tx.tx_id AS tx_id
`

const updateUserRisk = `
MATCH (u:User {user_id: $user_id})
SET u.risk_score = $risk_score
RETURN u.user_id AS user_id
`

const queryUserTxHistory = `
MATCH (u:User {user_id: $user_id})-[:SENT]->(tx:Transaction)
RETURN tx.amount    AS amount,
       tx.timestamp AS timestamp
ORDER BY tx.timestamp DESC
LIMIT $limit
`

const queryUserProfile = `
MATCH (u:User {user_id: $user_id})
RETURN u.avg_tx_amount  AS avg_tx_amount,
       u.std_tx_amount  AS std_tx_amount,
       u.tx_count       AS tx_count,
       u.total_outflow  AS total_outflow,
       u.last_active    AS last_active,
       u.is_dormant     AS is_dormant,
       u.risk_score     AS risk_score,
       u.last_lat       AS last_lat,
       u.last_lon       AS last_lon
`

const queryDormantWakeup = `
MATCH (u:User {user_id: $user_id})
WITH u,
     duration.between(u.last_active, datetime()).days AS days_slept
OPTIONAL MATCH (u)-[:SENT]->(tx:Transaction)
  WHERE tx.timestamp > datetime() - duration({hours: 1})
WITH u, days_slept,
     count(tx)      AS recent_tx_count,
     sum(tx.amount) AS recent_volume
RETURN u.is_dormant     AS is_dormant,
       u.tx_count       AS tx_count,
       u.avg_tx_amount  AS avg_tx_amount,
       days_slept,
       recent_tx_count,
       recent_volume,
       CASE
         WHEN days_slept > $dormant_days AND recent_tx_count > 0
         THEN true ELSE false
       END AS is_first_strike,
       CASE
         WHEN u.avg_tx_amount > 0 AND recent_volume > u.avg_tx_amount * 5
         THEN true ELSE false
       END AS is_volume_spike
`

const queryRecentInflowOutflow = `
MATCH (u:User {user_id: $user_id})
OPTIONAL MATCH (u)<-[:RECEIVED_BY]-(ti:Transaction)
  WHERE ti.timestamp > datetime() - duration({seconds: $window})
WITH u, coalesce(sum(ti.amount), 0) AS recent_in, count(ti) AS in_cnt
OPTIONAL MATCH (u)-[:SENT]->(to:Transaction)
  WHERE to.timestamp > datetime() - duration({seconds: $window})
RETURN recent_in                   AS recent_inflow,
       coalesce(sum(to.amount), 0) AS recent_outflow,
       in_cnt                      AS inflow_count,
       count(to)                   AS outflow_count
`

const queryASNDensity = `
MATCH (u:User)-[:ACCESSED_FROM]->(i:IP)
WHERE i.asn = $asn_number
RETURN count(DISTINCT u) AS account_count
`

const queryUserASNHistory = `
MATCH (u:User {user_id: $user_id})-[:ACCESSED_FROM]->(i:IP)
WHERE i.asn IS NOT NULL AND i.asn > 0
RETURN i.asn AS asn, count(i) AS usage_count
ORDER BY usage_count DESC
`

const queryDeviceInfo = `
MATCH (d:Device {device_id: $device_id})
OPTIONAL MATCH (d)<-[:USES_DEVICE]-(u:User)
WITH d, count(u) AS acc_cnt
RETURN d.device_id        AS device_id,
       d.os               AS os,
       d.capability_mask  AS capability_mask,
       d.device_score     AS device_score,
       acc_cnt            AS account_count
`

const queryDeviceRiskPropagation = `
MATCH (d:Device {device_id: $device_id})<-[:USES_DEVICE]-(u:User)
WITH d,
     avg(u.risk_score)  AS avg_user_risk,
     max(u.risk_score)  AS max_user_risk,
     count(u)           AS user_count
RETURN avg_user_risk,
       max_user_risk,
       user_count,
       CASE
         WHEN user_count >= 5              THEN 100.0
         WHEN user_count >= 3              THEN 70.0
         WHEN max_user_risk > 80           THEN 60.0
         ELSE coalesce(avg_user_risk * 0.5, 0)
       END AS device_risk_score
`

const queryUserDeviceHistory = `
MATCH (u:User {user_id: $user_id})-[:USES_DEVICE]->(d:Device)
RETURN d.device_id AS device_id
ORDER BY d.created_at DESC
`

const queryDeviceUsers24h = `
MATCH (d:Device {device_id: $device_id})<-[:USES_DEVICE]-(u:User)
WHERE u.last_active > datetime() - duration({hours: 24})
RETURN count(DISTINCT u.user_id) AS unique_users_24h
`

const queryIPRotation = `
MATCH (u:User {user_id: $user_id})-[:ACCESSED_FROM]->(i:IP)
RETURN count(DISTINCT i.ip_address) AS unique_ip_count
`

const queryRecentAmounts = `
MATCH (u:User {user_id: $user_id})-[:SENT]->(tx:Transaction)
WHERE tx.timestamp > datetime() - duration({hours: $window_hours})
RETURN tx.amount AS amount
ORDER BY tx.timestamp DESC
LIMIT 20
`

const queryUserHourDistribution = `
MATCH (u:User {user_id: $user_id})-[:SENT]->(tx:Transaction)
RETURN tx.timestamp.hour AS hour, count(tx) AS cnt
ORDER BY hour
`

const queryIdenticalTxReceiver = `
MATCH (u:User {user_id: $sender_id})-[:SENT]->(tx:Transaction)
      -[:RECEIVED_BY]->(r:User {user_id: $receiver_id})
WHERE tx.timestamp > datetime() - duration({hours: $window_hours})
  AND abs(tx.amount - $amount) < 1.0
RETURN count(tx) AS identical_count
`

const queryUserGraphFeatures = `
MATCH (u:User {user_id: $user_id})
OPTIONAL MATCH (u)-[:TRANSFERRED_TO]->(out_n:User)
WITH u,
     count(DISTINCT out_n)     AS out_degree,
     collect(out_n.risk_score) AS out_risks
OPTIONAL MATCH (in_n:User)-[:TRANSFERRED_TO]->(u)
WITH u, out_degree, out_risks,
     count(DISTINCT in_n) AS in_degree
RETURN in_degree,
       out_degree,
       toString(u.community_id) AS community_id,
       u.betweenness            AS betweenness,
       u.clustering_coeff       AS clustering_coeff,
       u.pagerank               AS pagerank,
       CASE WHEN size(out_risks) > 0
            THEN reduce(s=0.0, r IN out_risks | s+r)/size(out_risks)
            ELSE 0.0 END        AS avg_neighbor_risk
`

const queryCommunityStats = `
MATCH (u:User)
WHERE toString(u.community_id) = $community_id
WITH collect(u.risk_score) AS risks, count(u) AS cnt
WHERE cnt > 0
RETURN cnt                                  AS member_count,
       reduce(s=0.0, r IN risks | s+r)/cnt  AS avg_risk,
       size([r IN risks WHERE r > 70])      AS high_risk_count
`

const queryVelocityFeatures = `
MATCH (u:User {user_id: $user_id})-[:SENT]->(txo:Transaction)
  WHERE txo.timestamp > datetime() - duration({seconds: $window})
WITH u,
     count(txo)       AS send_cnt,
     sum(txo.amount)  AS total_sent
OPTIONAL MATCH (u)<-[:RECEIVED_BY]-(txi:Transaction)
  WHERE txi.timestamp > datetime() - duration({seconds: $window})
RETURN send_cnt        AS send_count,
       count(txi)      AS receive_count,
       total_sent      AS total_sent_window,
       coalesce(sum(txi.amount), 0) AS total_received_window,
       CASE WHEN coalesce(sum(txi.amount), 0) > 0
            THEN total_sent / sum(txi.amount)
            ELSE 0.0 END AS outflow_inflow_ratio,
       send_cnt + count(txi) AS total_activity
`

const gdsProbe = `RETURN gds.version() AS version`

const gdsDropProjection = `
CALL gds.graph.drop('fraud-graph', false)
YIELD graphName
RETURN graphName
`

const gdsCreateProjection = `
CALL gds.graph.project(
    'fraud-graph',
    'User',
    {
        TRANSFERRED_TO: {
            orientation: 'UNDIRECTED',
            properties: ['total_amount', 'tx_count']
        }
    }
)
YIELD graphName, nodeCount, relationshipCount
RETURN graphName, nodeCount, relationshipCount
`

const gdsLouvain = `
CALL gds.louvain.write('fraud-graph', {
    writeProperty: 'community_id'
})
YIELD communityCount, nodePropertiesWritten
RETURN communityCount, nodePropertiesWritten
`

const gdsBetweenness = `
CALL gds.betweenness.write('fraud-graph', {
    writeProperty: 'betweenness'
})
YIELD nodePropertiesWritten
RETURN nodePropertiesWritten
`

const gdsPageRank = `
CALL gds.pageRank.write('fraud-graph', {
    writeProperty: 'pagerank',
    maxIterations: 20,
    dampingFactor: 0.85
})
YIELD nodePropertiesWritten
RETURN nodePropertiesWritten
`

const gdsLocalClustering = `
CALL gds.localClusteringCoefficient.write('fraud-graph', {
    writeProperty: 'clustering_coeff'
})
YIELD nodePropertiesWritten
RETURN nodePropertiesWritten
`

const gdsWCC = `
CALL gds.wcc.write('fraud-graph', {
    writeProperty: 'component_id'
})
YIELD componentCount, nodePropertiesWritten
RETURN nodePropertiesWritten
`

// Community labelling fallback: weakly-connected component walk that
// assigns community_id = minimum user id in the component.
const fallbackCommunityDetection = `
MATCH (u:User)
WHERE (u)-[:TRANSFERRED_TO]-() OR ()-[:TRANSFERRED_TO]->(u)
WITH u
ORDER BY u.user_id
WITH collect(u) AS users
UNWIND users AS start
WITH start
WHERE start.community_id IS NULL
CALL {
  WITH start
  MATCH path = (start)-[:TRANSFERRED_TO*1..6]-(connected:User)
  WITH DISTINCT connected, start.user_id AS cid
  SET connected.community_id = cid
  RETURN count(connected) AS members
}
SET start.community_id = start.user_id
RETURN count(start) AS nodePropertiesWritten
`

// Betweenness fallback: degree-product proxy, normalised to [0,1].
const fallbackBetweenness = `
MATCH (u:User)
OPTIONAL MATCH (u)-[:TRANSFERRED_TO]->(out_n:User)
WITH u, count(DISTINCT out_n) AS out_deg
OPTIONAL MATCH (in_n:User)-[:TRANSFERRED_TO]->(u)
WITH u, out_deg, count(DISTINCT in_n) AS in_deg
WITH u, toFloat(in_deg * out_deg) AS raw_between
WITH collect({node: u, raw: raw_between}) AS rows,
     max(raw_between) AS max_val
UNWIND rows AS r
WITH r.node AS u,
     CASE WHEN max_val > 0 THEN r.raw / max_val ELSE 0.0 END AS normed
SET u.betweenness = normed
RETURN count(u) AS nodePropertiesWritten
`

// PageRank fallback: normalised weighted in-degree.
const fallbackPageRank = `
MATCH (u:User)
OPTIONAL MATCH (u)<-[e:TRANSFERRED_TO]-()
WITH u, sum(coalesce(e.total_amount, 0)) AS weighted_in
WITH collect({node: u, wi: weighted_in}) AS rows,
     max(weighted_in) AS max_wi
UNWIND rows AS r
WITH r.node AS u,
     CASE WHEN max_wi > 0 THEN r.wi / max_wi ELSE 0.0 END AS pr
SET u.pagerank = pr
RETURN count(u) AS nodePropertiesWritten
`

// Clustering coefficient fallback: triangle ratio around each node.
const fallbackClusteringCoeff = `
MATCH (u:User)
OPTIONAL MATCH (u)-[:TRANSFERRED_TO]-(n1:User)
WITH u, collect(DISTINCT n1) AS neighbours, count(DISTINCT n1) AS deg
WHERE deg >= 2
WITH u, neighbours, deg * (deg - 1) / 2.0 AS possible
UNWIND range(0, size(neighbours)-2) AS i
UNWIND range(i+1, size(neighbours)-1) AS j
WITH u, possible,
     neighbours[i] AS a, neighbours[j] AS b
OPTIONAL MATCH (a)-[:TRANSFERRED_TO]-(b)
WITH u, possible, count(b) AS triangles
SET u.clustering_coeff = triangles / possible
RETURN count(u) AS nodePropertiesWritten
`

const fallbackClusteringCoeffZero = `
MATCH (u:User)
WHERE u.clustering_coeff IS NULL
SET u.clustering_coeff = 0.0
RETURN count(u) AS zeroed
`

const detectFraudIslands = `
MATCH (u:User)
WHERE u.community_id IS NOT NULL
WITH u.community_id AS cid, collect(u) AS members, count(u) AS cnt
WHERE cnt >= 3
WITH cid, members, cnt,
     [m IN members | m.risk_score] AS risks
WITH cid, members, cnt, risks,
     reduce(s=0.0, r IN risks | s+r)/cnt AS avg_risk
WHERE avg_risk > $min_avg_risk
RETURN toString(cid)                   AS cluster_id,
       cnt                             AS member_count,
       avg_risk,
       [m IN members | m.user_id]      AS member_ids,
       size([r IN risks WHERE r > 70]) AS high_risk_members
ORDER BY avg_risk DESC
`

const detectMoneyRouters = `
MATCH (u:User)
WHERE u.betweenness IS NOT NULL AND u.betweenness > $min_betweenness
RETURN u.user_id     AS user_id,
       u.betweenness AS betweenness,
       u.risk_score  AS risk_score
ORDER BY u.betweenness DESC
LIMIT 20
`

const detectCircularFlows = `
MATCH path = (a:User)-[:TRANSFERRED_TO]->(b:User)
                     -[:TRANSFERRED_TO]->(c:User)
                     -[:TRANSFERRED_TO]->(a)
WHERE a <> b AND b <> c AND a <> c
WITH a, b, c,
     [(a)-[r:TRANSFERRED_TO]->(b) | r][0] AS r1,
     [(b)-[r:TRANSFERRED_TO]->(c) | r][0] AS r2,
     [(c)-[r:TRANSFERRED_TO]->(a) | r][0] AS r3
WHERE r1.last_tx > datetime() - duration({days: 7})
RETURN a.user_id AS node_a,
       b.user_id AS node_b,
       c.user_id AS node_c,
       r1.total_amount + r2.total_amount + r3.total_amount
         AS total_circular_flow
ORDER BY total_circular_flow DESC
LIMIT 50
`

const detectRapidChains = `
MATCH path = (start:User)-[:TRANSFERRED_TO*2..4]->(finish:User)
WHERE start <> finish
WITH start, finish, path,
     [r IN relationships(path) | r.last_tx]      AS timestamps,
     [r IN relationships(path) | r.total_amount] AS amounts,
     length(path) AS depth
WHERE ALL(i IN range(0, size(timestamps)-2)
      WHERE duration.between(timestamps[i], timestamps[i+1]).seconds < 300)
RETURN start.user_id                  AS chain_start,
       finish.user_id                 AS chain_end,
       [n IN nodes(path) | n.user_id] AS chain_nodes,
       depth,
       reduce(s=0.0, a IN amounts | s+a) AS total_flow
ORDER BY total_flow DESC
LIMIT 30
`

const detectStarHubs = `
MATCH (hub:User)
WHERE hub.tx_count > 5
WITH hub,
     size([(hub)<-[:TRANSFERRED_TO]-() | 1]) AS in_deg,
     size([(hub)-[:TRANSFERRED_TO]->() | 1]) AS out_deg
WHERE in_deg >= $min_in_degree OR out_deg >= $min_out_degree
RETURN hub.user_id AS user_id,
       in_deg      AS in_degree,
       out_deg     AS out_degree,
       CASE
         WHEN in_deg >= 5 AND out_deg <= 2 THEN 'COLLECTOR'
         WHEN out_deg >= 5 AND in_deg <= 2 THEN 'DISTRIBUTOR'
         ELSE 'RELAY'
       END AS hub_type
ORDER BY in_deg + out_deg DESC
LIMIT 50
`

const detectRelayMules = `
MATCH (u:User)
WHERE u.tx_count > 3
WITH u
OPTIONAL MATCH (u)<-[:RECEIVED_BY]-(ti:Transaction)
  WHERE ti.timestamp > datetime() - duration({minutes: 10})
WITH u, coalesce(sum(ti.amount), 0) AS total_in_10m, count(ti) AS in_count
OPTIONAL MATCH (u)-[:SENT]->(to:Transaction)
  WHERE to.timestamp > datetime() - duration({minutes: 10})
WITH u, total_in_10m, in_count,
     coalesce(sum(to.amount), 0) AS total_out_10m, count(to) AS out_count
WHERE total_in_10m > 0 AND in_count >= 2 AND out_count >= 2
WITH u, total_in_10m, total_out_10m,
     total_out_10m / total_in_10m AS flow_ratio
WHERE flow_ratio > $min_flow_ratio
RETURN u.user_id     AS user_id,
       total_in_10m  AS total_inflow_10m,
       total_out_10m AS total_outflow_10m,
       flow_ratio
ORDER BY flow_ratio DESC
LIMIT 50
`

// Rolling account statistics, recomputed off the hot path.
const batchUpdateUserStats = `
MATCH (u:User)
WHERE u.last_active > datetime() - duration({seconds: $window_sec})
WITH u
OPTIONAL MATCH (u)-[:SENT]->(txo:Transaction)
WITH u,
     coalesce(sum(txo.amount), 0) AS sum_out,
     collect(txo.amount)          AS amounts_out
OPTIONAL MATCH (u)<-[:RECEIVED_BY]-(txi:Transaction)
WITH u, sum_out, amounts_out,
     coalesce(sum(txi.amount), 0) AS sum_in
WITH u, sum_out, sum_in, amounts_out,
     CASE WHEN size(amounts_out) > 0
          THEN reduce(s=0.0, a IN amounts_out | s+a) / size(amounts_out)
          ELSE 0.0 END AS mean_amt,
     size(amounts_out) AS total_tx
WITH u, sum_out, sum_in, mean_amt, total_tx, amounts_out,
     CASE WHEN size(amounts_out) > 0
          THEN sqrt(reduce(s=0.0, a IN amounts_out |
               s + (a - mean_amt)*(a - mean_amt)) / size(amounts_out))
          ELSE 0.0 END AS std_amt
SET u.tx_count      = total_tx,
    u.total_outflow = sum_out,
    u.total_inflow  = sum_in,
    u.avg_tx_amount = mean_amt,
    u.std_tx_amount = std_amt
RETURN count(u) AS users_updated
`

const batchUpdateDeviceStats = `
MATCH (d:Device)<-[:USES_DEVICE]-(u:User)
WITH d, count(u) AS cnt
SET d.account_count = cnt
RETURN count(d) AS devices_updated
`

const queryFlagDormantAccounts = `
MATCH (u:User)
WHERE u.last_active < datetime() - duration({days: $dormant_days})
SET u.is_dormant = true
RETURN count(u) AS dormant_count
`

const vizFraudNetwork = `
MATCH (u:User)
WHERE u.risk_score > $min_risk OR toString(u.community_id) IN $cluster_ids
OPTIONAL MATCH (u)-[r:TRANSFERRED_TO]->(v:User)
  WHERE v.risk_score > $min_risk OR toString(v.community_id) IN $cluster_ids
RETURN u.user_id                AS source_id,
       u.risk_score             AS source_risk,
       toString(u.community_id) AS source_cluster,
       v.user_id                AS target_id,
       v.risk_score             AS target_risk,
       toString(v.community_id) AS target_cluster,
       r.total_amount           AS edge_amount,
       r.tx_count               AS edge_tx_count
ORDER BY u.risk_score DESC, v.risk_score DESC
LIMIT 200
`

const vizDeviceSharing = `
MATCH (d:Device)<-[:USES_DEVICE]-(u:User)
WITH d,
     collect({id: u.user_id, risk: u.risk_score}) AS users,
     count(u) AS cnt
WHERE cnt >= 2
RETURN d.device_id    AS device_id,
       cnt            AS shared_count,
       users,
       d.device_score AS device_score
ORDER BY cnt DESC
LIMIT 100
`

const vizDashboardStats = `
MATCH (tx:Transaction)
WITH count(tx)          AS total_tx,
     sum(tx.amount)     AS total_amount,
     avg(tx.risk_score) AS avg_risk
OPTIONAL MATCH (f:Transaction)
  WHERE f.risk_score > $high_threshold
WITH total_tx, total_amount, avg_risk, count(f) AS flagged
OPTIONAL MATCH (c:Cluster)
  WHERE c.risk_level IN ['HIGH', 'CRITICAL']
RETURN total_tx, total_amount, avg_risk, flagged,
       count(c) AS active_clusters
`

const maintCountNodes = `
MATCH (n)
RETURN labels(n)[0] AS label, count(n) AS count
ORDER BY count DESC
`

const maintCountRels = `
MATCH ()-[r]->()
RETURN type(r) AS type, count(r) AS count
ORDER BY count DESC
`
