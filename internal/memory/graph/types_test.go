package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRelationType_KnownRelationsRoundTrip(t *testing.T) {
	t.Parallel()
	assert.Equal(t, RelationMentions, ParseRelationType("mentions"))
	assert.Equal(t, RelationCausedBy, ParseRelationType("caused_by"))
}

func TestParseRelationType_UnknownFallsThrough(t *testing.T) {
	t.Parallel()
	assert.Equal(t, RelationUnknown, ParseRelationType("some_made_up_relation"))
}
