// Package graph implements the Graph layer's two interchangeable backends
// (spec §4.2's L3, resolving the Open Question at spec §9): a direct
// neo4j-go-driver backend for embedded/co-located deployments, and an HTTP
// backend for a graph service running behind a network boundary.
package graph

import (
	"context"
	"time"
)

// RelationType is a closed set of graph edge relations, adapted from the
// original implementation's rich_texture_edge_types enumeration. Unknown
// relation strings pass through as RelationUnknown rather than erroring,
// since the set is advisory (used for UI grouping) not enforced by the
// backend.
type RelationType string

const (
	RelationMentions   RelationType = "mentions"
	RelationRelatesTo  RelationType = "relates_to"
	RelationCausedBy   RelationType = "caused_by"
	RelationPartOf     RelationType = "part_of"
	RelationOwns       RelationType = "owns"
	RelationWorksWith  RelationType = "works_with"
	RelationLocatedIn  RelationType = "located_in"
	RelationOccurredOn RelationType = "occurred_on"
	RelationUnknown    RelationType = "unknown"
)

// ParseRelationType maps an arbitrary string onto the closed set, falling
// back to RelationUnknown for anything unrecognised instead of rejecting
// it outright.
func ParseRelationType(s string) RelationType {
	switch RelationType(s) {
	case RelationMentions, RelationRelatesTo, RelationCausedBy, RelationPartOf,
		RelationOwns, RelationWorksWith, RelationLocatedIn, RelationOccurredOn:
		return RelationType(s)
	default:
		return RelationUnknown
	}
}

// Edge is a directed (source, relation, target) fact, optionally carrying a
// human-readable sentence and entity type labels (spec §3's GraphEdge).
type Edge struct {
	UUID       string
	SourceUUID string
	SourceName string
	SourceType string
	Relation   RelationType
	TargetUUID string
	TargetName string
	TargetType string
	Fact       string
	Group      string
	CreatedAt  time.Time
}

// Backend is the contract both the neo4j and HTTP graph implementations
// satisfy.
type Backend interface {
	// AddTriplet looks up (or creates) Source and Target by (name, group),
	// then creates the edge between their stable ids. A duplicate edge
	// under identical (source_uuid, relation, target_uuid) returns the
	// existing edge rather than creating a second one. Layer L3 must never
	// create a second entity for an existing name within the same group.
	AddTriplet(ctx context.Context, source, relation, target, fact, sourceType, targetType, group string) (Edge, error)

	// Search returns at most limit fact edges matching query; entity
	// summaries are not returned. The neo4j backend matches the fact text
	// and both endpoint names and orders the edges newest first.
	Search(ctx context.Context, query string, limit int) ([]Edge, error)

	// Explore walks outward from entity up to depth hops.
	Explore(ctx context.Context, entity string, depth int) ([]Edge, error)

	// Timeline returns edges created in [since, until), newest first,
	// capped at limit.
	Timeline(ctx context.Context, since, until time.Time, limit int) ([]Edge, error)

	// DeleteEdge removes the edge identified by uuid. Deleting a missing
	// edge is idempotent.
	DeleteEdge(ctx context.Context, uuid string) error

	// IngestEpisode stores a free-text episode for group; entity/edge
	// extraction from the episode is delegated to an external engine and
	// is out of scope here.
	IngestEpisode(ctx context.Context, text, group string) error

	Health(ctx context.Context) (bool, string)
	Close(ctx context.Context) error
}
