package interfaces

import (
	"context"

	"github.com/ternarybob/continuum/internal/common"
	"github.com/ternarybob/continuum/internal/models"
)

// DataGatherer collects the external evidence for one ticker: market
// price, company announcements, and recent news. Implementations never
// return an error for an individual source being down; they record the
// failure in the bundle and carry on.
type DataGatherer interface {
	// Gather fans out to all sources concurrently and returns whatever
	// was collected. The returned bundle is always non-nil.
	Gather(ctx context.Context, ticker common.Ticker) *models.GatheredData
}
