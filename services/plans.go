package services

import (
	"sort"
	"time"

	"github.com/krshsl/cascprep/models"
)

// Plan is one purchasable access period.
type Plan struct {
	ID           string `json:"id"`
	Product      string `json:"product"`
	DurationDays int    `json:"durationDays"`
	AmountPence  int64  `json:"amount"`
	Currency     string `json:"currency"`
	Label        string `json:"label"`
	PriceID      string `json:"-"`
}

func (p Plan) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}

var basePlans = []Plan{
	{ID: "test_3m", Product: models.ProductTest, DurationDays: 90, AmountPence: 15000, Currency: "gbp", Label: "£150 / 3 months"},
	{ID: "test_6m", Product: models.ProductTest, DurationDays: 180, AmountPence: 25000, Currency: "gbp", Label: "£250 / 6 months"},
	{ID: "live_1m", Product: models.ProductLive, DurationDays: 30, AmountPence: 15000, Currency: "gbp", Label: "£150 / 1 month"},
	{ID: "live_3m", Product: models.ProductLive, DurationDays: 90, AmountPence: 30000, Currency: "gbp", Label: "£300 / 3 months"},
	{ID: "live_6m", Product: models.ProductLive, DurationDays: 180, AmountPence: 50000, Currency: "gbp", Label: "£500 / 6 months"},
}

// PlanCatalog is the fixed plan list joined with configured price ids.
type PlanCatalog struct {
	plans map[string]Plan
}

func NewPlanCatalog(prices map[string]string) *PlanCatalog {
	c := &PlanCatalog{plans: make(map[string]Plan, len(basePlans))}
	for _, p := range basePlans {
		p.PriceID = prices[p.ID]
		c.plans[p.ID] = p
	}
	return c
}

// Lookup returns the plan for id; empty and unknown ids are not found.
func (c *PlanCatalog) Lookup(id string) (Plan, bool) {
	p, ok := c.plans[id]
	return p, ok
}

// List returns plans grouped by product, shortest first.
func (c *PlanCatalog) List() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Product != out[j].Product {
			return out[i].Product > out[j].Product
		}
		return out[i].DurationDays < out[j].DurationDays
	})
	return out
}
