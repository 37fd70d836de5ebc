package publisher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"house_hunter/internal/domain"
)

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "listings.create", RoutingKey("listings", domain.ActionCreate))
	assert.Equal(t, "listings.update", RoutingKey("listings", domain.ActionUpdate))
}
