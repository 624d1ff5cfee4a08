package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// neo4jBackend uses a NewSession/ExecuteWrite/MERGE-by-stable-id shape,
// generalised from concept/prereq edges to a generic (source, relation,
// target) triplet.
type neo4jBackend struct {
	driver   neo4j.DriverWithContext
	database string
}

func newNeo4jBackend(uri, username, password, database string) (Backend, error) {
	auth := neo4j.BasicAuth(username, password, "")
	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("memory/graph: init neo4j driver: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("memory/graph: verify neo4j connectivity: %w", err)
	}
	if err := ensureConstraints(ctx, driver, database); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	return &neo4jBackend{driver: driver, database: database}, nil
}

func ensureConstraints(ctx context.Context, driver neo4j.DriverWithContext, database string) error {
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: database})
	defer session.Close(ctx)
	stmts := []string{
		`CREATE CONSTRAINT entity_uuid_unique IF NOT EXISTS FOR (e:Entity) REQUIRE e.uuid IS UNIQUE`,
		`CREATE INDEX entity_name_group_idx IF NOT EXISTS FOR (e:Entity) ON (e.name, e.group)`,
		`CREATE CONSTRAINT edge_uuid_unique IF NOT EXISTS FOR ()-[r:FACT]-() REQUIRE r.uuid IS UNIQUE`,
	}
	for _, stmt := range stmts {
		if res, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("memory/graph: ensure constraint: %w", err)
		} else if _, err := res.Consume(ctx); err != nil {
			return fmt.Errorf("memory/graph: consume constraint: %w", err)
		}
	}
	return nil
}

func (b *neo4jBackend) session(ctx context.Context) neo4j.SessionWithContext {
	return b.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: b.database})
}

// getOrCreateEntity reuses an existing node by (name, group) or creates a
// new one with a fresh uuid, enforcing L3's no-duplicate-entity invariant.
func getOrCreateEntity(ctx context.Context, tx neo4j.ManagedTransaction, name, group, entityType string) (string, error) {
	res, err := tx.Run(ctx, `
		MERGE (e:Entity {name: $name, group: $group})
		ON CREATE SET e.uuid = $newUUID, e.type = $entityType, e.created_at = $now
		RETURN e.uuid AS uuid`,
		map[string]any{
			"name": name, "group": group, "entityType": entityType,
			"newUUID": uuid.NewString(), "now": time.Now().UTC().Format(time.RFC3339Nano),
		})
	if err != nil {
		return "", err
	}
	record, err := res.Single(ctx)
	if err != nil {
		return "", err
	}
	id, _ := record.Get("uuid")
	return id.(string), nil
}

func (b *neo4jBackend) AddTriplet(ctx context.Context, source, relation, target, fact, sourceType, targetType, group string) (Edge, error) {
	session := b.session(ctx)
	defer session.Close(ctx)

	rel := ParseRelationType(relation)
	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		srcUUID, err := getOrCreateEntity(ctx, tx, source, group, sourceType)
		if err != nil {
			return nil, fmt.Errorf("get_or_create source: %w", err)
		}
		dstUUID, err := getOrCreateEntity(ctx, tx, target, group, targetType)
		if err != nil {
			return nil, fmt.Errorf("get_or_create target: %w", err)
		}

		existing, err := tx.Run(ctx, `
			MATCH (s:Entity {uuid: $src})-[r:FACT {relation: $relation}]->(t:Entity {uuid: $dst})
			RETURN r.uuid AS uuid, r.fact AS fact, r.created_at AS created_at`,
			map[string]any{"src": srcUUID, "relation": string(rel), "dst": dstUUID})
		if err != nil {
			return nil, err
		}
		if record, err := existing.Single(ctx); err == nil {
			edgeUUID, _ := record.Get("uuid")
			existingFact, _ := record.Get("fact")
			createdAt, _ := record.Get("created_at")
			return Edge{
				UUID: edgeUUID.(string), SourceUUID: srcUUID, SourceName: source, SourceType: sourceType,
				Relation: rel, TargetUUID: dstUUID, TargetName: target, TargetType: targetType,
				Fact: fmt.Sprint(existingFact), Group: group, CreatedAt: parseTime(fmt.Sprint(createdAt)),
			}, nil
		}

		edgeUUID := uuid.NewString()
		now := time.Now().UTC()
		_, err = tx.Run(ctx, `
			MATCH (s:Entity {uuid: $src}), (t:Entity {uuid: $dst})
			CREATE (s)-[r:FACT {uuid: $uuid, relation: $relation, fact: $fact, group: $group, created_at: $now}]->(t)`,
			map[string]any{
				"src": srcUUID, "dst": dstUUID, "uuid": edgeUUID, "relation": string(rel),
				"fact": fact, "group": group, "now": now.Format(time.RFC3339Nano),
			})
		if err != nil {
			return nil, err
		}
		return Edge{
			UUID: edgeUUID, SourceUUID: srcUUID, SourceName: source, SourceType: sourceType,
			Relation: rel, TargetUUID: dstUUID, TargetName: target, TargetType: targetType,
			Fact: fact, Group: group, CreatedAt: now,
		}, nil
	})
	if err != nil {
		return Edge{}, fmt.Errorf("memory/graph: add_triplet: %w", err)
	}
	return result.(Edge), nil
}

func (b *neo4jBackend) Search(ctx context.Context, query string, limit int) ([]Edge, error) {
	session := b.session(ctx)
	defer session.Close(ctx)
	rows, err := session.Run(ctx, `
		MATCH (s:Entity)-[r:FACT]->(t:Entity)
		WHERE toLower(r.fact) CONTAINS toLower($query)
		   OR toLower(s.name) CONTAINS toLower($query)
		   OR toLower(t.name) CONTAINS toLower($query)
		RETURN r.uuid AS uuid, s.uuid AS src, s.name AS srcName, s.type AS srcType,
		       r.relation AS relation, t.uuid AS dst, t.name AS dstName, t.type AS dstType,
		       r.fact AS fact, r.group AS group, r.created_at AS createdAt
		ORDER BY r.created_at DESC
		LIMIT $limit`, map[string]any{"query": query, "limit": int64(limit)})
	if err != nil {
		return nil, fmt.Errorf("memory/graph: search: %w", err)
	}
	return collectEdges(ctx, rows)
}

func (b *neo4jBackend) Explore(ctx context.Context, entity string, depth int) ([]Edge, error) {
	if depth <= 0 {
		depth = 1
	}
	session := b.session(ctx)
	defer session.Close(ctx)
	cypher := fmt.Sprintf(`
		MATCH (s:Entity {name: $entity})-[r:FACT*1..%d]->(t:Entity)
		UNWIND r AS edge
		RETURN edge.uuid AS uuid, startNode(edge).uuid AS src, startNode(edge).name AS srcName,
		       startNode(edge).type AS srcType, edge.relation AS relation, endNode(edge).uuid AS dst,
		       endNode(edge).name AS dstName, endNode(edge).type AS dstType, edge.fact AS fact,
		       edge.group AS group, edge.created_at AS createdAt`, depth)
	rows, err := session.Run(ctx, cypher, map[string]any{"entity": entity})
	if err != nil {
		return nil, fmt.Errorf("memory/graph: explore: %w", err)
	}
	return collectEdges(ctx, rows)
}

func (b *neo4jBackend) Timeline(ctx context.Context, since, until time.Time, limit int) ([]Edge, error) {
	session := b.session(ctx)
	defer session.Close(ctx)
	rows, err := session.Run(ctx, `
		MATCH (s:Entity)-[r:FACT]->(t:Entity)
		WHERE r.created_at >= $since AND r.created_at < $until
		RETURN r.uuid AS uuid, s.uuid AS src, s.name AS srcName, s.type AS srcType,
		       r.relation AS relation, t.uuid AS dst, t.name AS dstName, t.type AS dstType,
		       r.fact AS fact, r.group AS group, r.created_at AS createdAt
		ORDER BY r.created_at DESC
		LIMIT $limit`, map[string]any{
		"since": since.UTC().Format(time.RFC3339Nano),
		"until": until.UTC().Format(time.RFC3339Nano),
		"limit": int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("memory/graph: timeline: %w", err)
	}
	return collectEdges(ctx, rows)
}

func (b *neo4jBackend) DeleteEdge(ctx context.Context, edgeUUID string) error {
	session := b.session(ctx)
	defer session.Close(ctx)
	_, err := session.Run(ctx, `MATCH ()-[r:FACT {uuid: $uuid}]->() DELETE r`, map[string]any{"uuid": edgeUUID})
	if err != nil {
		return fmt.Errorf("memory/graph: delete_edge: %w", err)
	}
	return nil
}

func (b *neo4jBackend) IngestEpisode(ctx context.Context, text, group string) error {
	session := b.session(ctx)
	defer session.Close(ctx)
	_, err := session.Run(ctx, `
		CREATE (:Episode {uuid: $uuid, text: $text, group: $group, created_at: $now})`,
		map[string]any{"uuid": uuid.NewString(), "text": text, "group": group, "now": time.Now().UTC().Format(time.RFC3339Nano)})
	if err != nil {
		return fmt.Errorf("memory/graph: ingest_episode: %w", err)
	}
	return nil
}

func (b *neo4jBackend) Health(ctx context.Context) (bool, string) {
	if err := b.driver.VerifyConnectivity(ctx); err != nil {
		return false, err.Error()
	}
	return true, "ok"
}

func (b *neo4jBackend) Close(ctx context.Context) error {
	return b.driver.Close(ctx)
}

func collectEdges(ctx context.Context, rows neo4j.ResultWithContext) ([]Edge, error) {
	var edges []Edge
	for rows.Next(ctx) {
		rec := rows.Record()
		get := func(key string) string {
			v, _ := rec.Get(key)
			return fmt.Sprint(v)
		}
		edges = append(edges, Edge{
			UUID:       get("uuid"),
			SourceUUID: get("src"),
			SourceName: get("srcName"),
			SourceType: get("srcType"),
			Relation:   ParseRelationType(get("relation")),
			TargetUUID: get("dst"),
			TargetName: get("dstName"),
			TargetType: get("dstType"),
			Fact:       get("fact"),
			Group:      get("group"),
			CreatedAt:  parseTime(get("createdAt")),
		})
	}
	return edges, rows.Err()
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t
}
