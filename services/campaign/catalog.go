package campaign

import (
	"context"
	"sort"
	"sync"
	"time"

	"incentive-controlplane/pkg/config"
	"incentive-controlplane/pkg/db/option"
	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/pkg/repository"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

var (
	catalogHits = promauto.NewCounter(prometheus.CounterOpts{Name: "campaign_catalog_cache_hits_total"})
	catalogMiss = promauto.NewCounter(prometheus.CounterOpts{Name: "campaign_catalog_cache_miss_total"})
)

// Definition is a read-only, indexed view of a campaign with its cards, requirements and conditions.
type Definition struct {
	Campaign *Campaign
	LoadedAt time.Time

	cards        map[int]*Card
	requirements map[string]*Requirement
	cardNumber   map[string]int
	byOrderIndex map[int][]string
}

func NewDefinition(c *Campaign) *Definition {
	d := &Definition{
		Campaign:     c,
		LoadedAt:     time.Now(),
		cards:        make(map[int]*Card, len(c.Cards)),
		requirements: make(map[string]*Requirement),
		cardNumber:   make(map[string]int),
		byOrderIndex: make(map[int][]string),
	}

	sort.Slice(c.Cards, func(i, j int) bool { return c.Cards[i].Number < c.Cards[j].Number })
	for i := range c.Cards {
		card := &c.Cards[i]
		d.cards[card.Number] = card

		for j := range card.Requirements {
			req := &card.Requirements[j]
			sort.Slice(req.Conditions, func(a, b int) bool { return req.Conditions[a].ID < req.Conditions[b].ID })

			d.requirements[req.ID] = req
			d.cardNumber[req.ID] = card.Number
			d.byOrderIndex[req.OrderIndex] = append(d.byOrderIndex[req.OrderIndex], req.ID)
		}
	}

	for k := range d.byOrderIndex {
		sort.Strings(d.byOrderIndex[k])
	}

	return d
}

func (d *Definition) Requirement(id string) (*Requirement, bool) {
	r, ok := d.requirements[id]
	return r, ok
}

func (d *Definition) Card(number int) (*Card, bool) {
	c, ok := d.cards[number]
	return c, ok
}

// CardNumberOf returns the number of the card owning requirement id, or 0.
func (d *Definition) CardNumberOf(requirementID string) int {
	return d.cardNumber[requirementID]
}

// OrderIndexSet lists every requirement id of the campaign sharing orderIndex.
func (d *Definition) OrderIndexSet(orderIndex int) []string {
	return d.byOrderIndex[orderIndex]
}

// RequirementOnCard returns the requirement of card number whose order-index matches, if any.
func (d *Definition) RequirementOnCard(number, orderIndex int) (*Requirement, bool) {
	card, ok := d.cards[number]
	if !ok {
		return nil, false
	}
	for i := range card.Requirements {
		if card.Requirements[i].OrderIndex == orderIndex {
			return &card.Requirements[i], true
		}
	}
	return nil, false
}

// Catalog caches campaign definitions. Concurrent loads of one campaign share a single query.
type Catalog struct {
	mu    sync.RWMutex
	items map[string]*Definition
	ttl   time.Duration
	group singleflight.Group

	campaign repository.Repository[Campaign]
}

type CatalogParams struct {
	fx.In

	DB     *gorm.DB
	Config *config.Config `optional:"true"`
}

func NewCatalog(p CatalogParams) *Catalog {
	ttl := time.Minute
	if p.Config != nil && p.Config.Reconciliation.CatalogCacheTTL > 0 {
		ttl = p.Config.Reconciliation.CatalogCacheTTL
	}

	return &Catalog{
		items:    make(map[string]*Definition),
		ttl:      ttl,
		campaign: repository.ProvideStore[Campaign](p.DB),
	}
}

func (c *Catalog) get(id string) (*Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[id]
	if !ok || (c.ttl > 0 && time.Since(v.LoadedAt) > c.ttl) {
		return nil, false
	}
	return v, true
}

func (c *Catalog) set(id string, d *Definition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[id] = d
}

func (c *Catalog) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
}

// Load returns the definition of campaign id, reading through the cache.
func (c *Catalog) Load(ctx context.Context, id string) (*Definition, error) {
	return c.LoadTx(ctx, nil, id)
}

// LoadTx is Load for callers holding an open transaction: a cache miss is read on tx
// instead of taking another connection from the pool.
func (c *Catalog) LoadTx(ctx context.Context, tx *gorm.DB, id string) (*Definition, error) {
	if d, ok := c.get(id); ok {
		catalogHits.Inc()
		return d, nil
	}
	catalogMiss.Inc()

	if tx != nil {
		return c.fetch(ctx, tx, id)
	}

	v, err, _ := c.group.Do(id, func() (any, error) {
		return c.fetch(ctx, nil, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Definition), nil
}

func (c *Catalog) fetch(ctx context.Context, tx *gorm.DB, id string) (*Definition, error) {
	found, err := c.campaign.WithTrx(tx).FindOne(ctx, &Campaign{ID: id},
		option.WithPreload("Cards.Requirements.Conditions"),
	)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errutil.NotFound("campaign not found", nil)
	}

	d := NewDefinition(found)
	c.set(id, d)
	return d, nil
}
