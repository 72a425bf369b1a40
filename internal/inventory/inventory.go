// Package inventory tracks stock levels per SKU and reserves stock with
// compare-and-set so concurrent orders cannot oversell.
package inventory

import (
	"context"
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/R3E-Network/commerce_layer/internal/errors"
	"github.com/R3E-Network/commerce_layer/internal/kv"
)

// Namespace holds every item, keyed by SKU.
var Namespace = kv.MustNamespace("inventory")

var skuRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// Item is a stocked product.
type Item struct {
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	Quantity  int64     `json:"quantity"`
	Reserved  int64     `json:"reserved"`
	UpdatedBy string    `json:"updated_by"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ItemInput is the body of an upsert.
type ItemInput struct {
	Name     string `json:"name"`
	Quantity int64  `json:"quantity"`
}

// Reservation is the result of a successful reserve.
type Reservation struct {
	SKU       string `json:"sku"`
	Quantity  int64  `json:"quantity"`
	Remaining int64  `json:"remaining"`
}

// Service holds the inventory rules over a module-scoped store.
type Service struct {
	now func() time.Time
}

// NewService creates an inventory service.
func NewService() *Service {
	return &Service{now: time.Now}
}

func validateSKU(sku string) error {
	if !skuRE.MatchString(sku) {
		return errors.InvalidInput(fmt.Sprintf("invalid sku %q", sku))
	}
	return nil
}

// Put creates or replaces the item under sku. Reserved counts survive a
// replace.
func (s *Service) Put(ctx context.Context, store kv.Store, user, sku string, in ItemInput) (*Item, bool, error) {
	if err := validateSKU(sku); err != nil {
		return nil, false, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, false, errors.InvalidInput("name is required")
	}
	if in.Quantity < 0 {
		return nil, false, errors.InvalidInput("quantity must not be negative")
	}

	repo := kv.NewRepository[Item](store)
	item := &Item{SKU: sku, Name: in.Name, Quantity: in.Quantity, UpdatedBy: user, UpdatedAt: s.now().UTC()}
	inserted, err := repo.Insert(ctx, sku, item)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return item, true, nil
	}

	updated, err := repo.Update(ctx, sku, func(it *Item) error {
		it.Name = item.Name
		it.Quantity = item.Quantity
		it.UpdatedBy = item.UpdatedBy
		it.UpdatedAt = item.UpdatedAt
		return nil
	})
	if stderrors.Is(err, kv.ErrNotFound) {
		// Deleted between the insert and the update; the caller may retry.
		return nil, false, errors.Conflict("item was removed concurrently")
	}
	return updated, false, err
}

// Get loads the item under sku.
func (s *Service) Get(ctx context.Context, store kv.Store, sku string) (*Item, error) {
	if err := validateSKU(sku); err != nil {
		return nil, err
	}
	item, ok, err := kv.NewRepository[Item](store).Get(ctx, sku)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NotFound("item", sku)
	}
	return item, nil
}

// Lookup loads the named SKUs in one batch. Items come back in request order
// and SKUs with no stock record are listed in missing.
func (s *Service) Lookup(ctx context.Context, store kv.Store, skus []string) (items []Item, missing []string, err error) {
	for _, sku := range skus {
		if err := validateSKU(sku); err != nil {
			return nil, nil, err
		}
	}
	found, err := kv.NewRepository[Item](store).GetMany(ctx, skus)
	if err != nil {
		return nil, nil, err
	}
	items = []Item{}
	missing = []string{}
	for i, item := range found {
		if item == nil {
			missing = append(missing, skus[i])
			continue
		}
		items = append(items, *item)
	}
	return items, missing, nil
}

// List returns every item ordered by SKU.
func (s *Service) List(ctx context.Context, store kv.Store) ([]Item, error) {
	return kv.NewRepository[Item](store).List(ctx, "")
}

// Reserve takes quantity units out of stock for an order.
func (s *Service) Reserve(ctx context.Context, store kv.Store, sku string, quantity int64) (*Reservation, error) {
	if err := validateSKU(sku); err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, errors.InvalidInput("quantity must be positive")
	}
	item, err := kv.NewRepository[Item](store).Update(ctx, sku, func(it *Item) error {
		if it.Quantity < quantity {
			return errors.Conflict("insufficient stock").
				WithDetails("available", it.Quantity).
				WithDetails("requested", quantity)
		}
		it.Quantity -= quantity
		it.Reserved += quantity
		it.UpdatedAt = s.now().UTC()
		return nil
	})
	if stderrors.Is(err, kv.ErrNotFound) {
		return nil, errors.NotFound("item", sku)
	}
	if err != nil {
		return nil, err
	}
	return &Reservation{SKU: sku, Quantity: quantity, Remaining: item.Quantity}, nil
}
