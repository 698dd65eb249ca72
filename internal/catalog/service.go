package catalog

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"restaurant-service/internal/apperr"
	"restaurant-service/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service holds the administrative catalog operations. Name uniqueness is left to the
// store so that concurrent writers still collide with a ConflictError.
type Service struct {
	store Store
	log   *zap.Logger
}

func NewService(s Store, log *zap.Logger) *Service {
	return &Service{store: s, log: log}
}

type CreateCategoryInput struct {
	RestaurantID uint
	BranchID     *uint
	Name         string
	SortOrder    int
}

func (s *Service) CreateCategory(ctx context.Context, in CreateCategoryInput) (*model.Category, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.Invalid("name", "is required")
	}
	if in.BranchID != nil {
		if _, err := s.store.GetBranch(ctx, in.RestaurantID, *in.BranchID); err != nil {
			return nil, err
		}
	}

	c := &model.Category{
		RestaurantID: in.RestaurantID,
		BranchID:     in.BranchID,
		Name:         strings.TrimSpace(in.Name),
		SortOrder:    in.SortOrder,
	}
	if err := s.store.CreateCategory(ctx, c); err != nil {
		return nil, err
	}
	s.log.Info("Category created",
		zap.Uint("restaurant_id", c.RestaurantID),
		zap.Uint("category_id", c.ID),
		zap.String("name", c.Name))
	return c, nil
}

// MenuItemInput is the full definition of a menu item. Nil flags take their defaults on
// create (available, available everywhere and shown on the website) and keep the stored
// value on update.
type MenuItemInput struct {
	RestaurantID        uint
	BranchID            *uint
	CategoryID          *uint
	Name                string
	Description         string
	Price               decimal.Decimal
	Available           *bool
	AvailableEverywhere *bool
	ShowOnWebsite       *bool
	Ingredients         []model.RecipeLine
}

func (s *Service) CreateMenuItem(ctx context.Context, in MenuItemInput) (*model.MenuItem, error) {
	m := &model.MenuItem{
		Available:           true,
		AvailableEverywhere: true,
		ShowOnWebsite:       true,
	}
	if err := s.apply(ctx, m, in); err != nil {
		return nil, err
	}
	if err := s.store.CreateMenuItem(ctx, m); err != nil {
		return nil, err
	}
	s.log.Info("Menu item created",
		zap.Uint("restaurant_id", m.RestaurantID),
		zap.Uint("menu_item_id", m.ID),
		zap.String("name", m.Name),
		zap.Int("ingredients", len(m.Ingredients)))
	return m, nil
}

// GetMenuItem returns one of the restaurant's menu items with its recipe
func (s *Service) GetMenuItem(ctx context.Context, restaurantID, menuItemID uint) (*model.MenuItem, error) {
	return s.store.GetMenuItem(ctx, restaurantID, menuItemID)
}

// UpdateMenuItem replaces the item's definition and recipe
func (s *Service) UpdateMenuItem(ctx context.Context, menuItemID uint, in MenuItemInput) (*model.MenuItem, error) {
	m, err := s.store.GetMenuItem(ctx, in.RestaurantID, menuItemID)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, m, in); err != nil {
		return nil, err
	}
	if err := s.store.UpdateMenuItem(ctx, m); err != nil {
		return nil, err
	}
	s.log.Info("Menu item updated",
		zap.Uint("restaurant_id", m.RestaurantID),
		zap.Uint("menu_item_id", m.ID),
		zap.String("price", m.Price.String()))
	return m, nil
}

// apply validates in against the restaurant's data and copies it onto m
func (s *Service) apply(ctx context.Context, m *model.MenuItem, in MenuItemInput) error {
	v := &apperr.ValidationError{}
	if strings.TrimSpace(in.Name) == "" {
		v.Add("name", "is required")
	}
	if in.Price.IsNegative() {
		v.Add("price", "must not be negative")
	}
	seen := make(map[uint]bool, len(in.Ingredients))
	for i, line := range in.Ingredients {
		field := "ingredients[" + strconv.Itoa(i) + "]"
		if line.InventoryItemID == 0 {
			v.Add(field+".inventory_item_id", "is required")
		} else if seen[line.InventoryItemID] {
			v.Add(field+".inventory_item_id", "appears more than once")
		}
		seen[line.InventoryItemID] = true
		if !line.Quantity.IsPositive() {
			v.Add(field+".quantity", "must be greater than zero")
		}
	}
	if err := v.OrNil(); err != nil {
		return err
	}

	if in.BranchID != nil {
		if _, err := s.store.GetBranch(ctx, in.RestaurantID, *in.BranchID); err != nil {
			return err
		}
	}
	if in.CategoryID != nil {
		c, err := s.store.GetCategory(ctx, in.RestaurantID, *in.CategoryID)
		if err != nil {
			var nf *apperr.NotFoundError
			if errors.As(err, &nf) {
				return apperr.Invalid("category_id", "unknown category %d", *in.CategoryID)
			}
			return err
		}
		if !inScope(c.BranchID, in.BranchID) {
			return apperr.Invalid("category_id", "category %d belongs to another branch", c.ID)
		}
	}
	if err := s.checkRecipe(ctx, in); err != nil {
		return err
	}

	m.RestaurantID = in.RestaurantID
	m.BranchID = in.BranchID
	m.CategoryID = in.CategoryID
	m.Name = strings.TrimSpace(in.Name)
	m.Description = in.Description
	m.Price = in.Price
	if in.Available != nil {
		m.Available = *in.Available
	}
	if in.AvailableEverywhere != nil {
		m.AvailableEverywhere = *in.AvailableEverywhere
	}
	if in.ShowOnWebsite != nil {
		m.ShowOnWebsite = *in.ShowOnWebsite
	}
	m.Ingredients = make([]model.MenuItemIngredient, 0, len(in.Ingredients))
	for _, line := range in.Ingredients {
		m.Ingredients = append(m.Ingredients, model.MenuItemIngredient{
			InventoryItemID: line.InventoryItemID,
			Quantity:        line.Quantity,
		})
	}
	return nil
}

// checkRecipe requires every ingredient to exist in the restaurant and be visible to the
// item's branch scope
func (s *Service) checkRecipe(ctx context.Context, in MenuItemInput) error {
	if len(in.Ingredients) == 0 {
		return nil
	}
	ids := make([]uint, 0, len(in.Ingredients))
	for _, line := range in.Ingredients {
		ids = append(ids, line.InventoryItemID)
	}
	found, err := s.store.GetInventoryItems(ctx, in.RestaurantID, ids)
	if err != nil {
		return err
	}
	byID := make(map[uint]model.InventoryItem, len(found))
	for _, it := range found {
		byID[it.ID] = it
	}

	v := &apperr.ValidationError{}
	for i, line := range in.Ingredients {
		field := "ingredients[" + strconv.Itoa(i) + "].inventory_item_id"
		it, ok := byID[line.InventoryItemID]
		switch {
		case !ok:
			v.Add(field, "unknown ingredient %d", line.InventoryItemID)
		case it.BranchID != nil && !model.SameBranch(it.BranchID, in.BranchID):
			v.Add(field, "ingredient %d belongs to another branch", line.InventoryItemID)
		}
	}
	return v.OrNil()
}

type SetOverrideInput struct {
	RestaurantID uint
	BranchID     uint
	MenuItemID   uint
	// Price replaces the base price when set
	Price     *decimal.Decimal
	Available bool
}

// SetOverride records the branch's explicit price and availability for one item
func (s *Service) SetOverride(ctx context.Context, in SetOverrideInput) (*model.BranchMenuItem, error) {
	if in.Price != nil && in.Price.IsNegative() {
		return nil, apperr.Invalid("price", "must not be negative")
	}
	if _, err := s.store.GetBranch(ctx, in.RestaurantID, in.BranchID); err != nil {
		return nil, err
	}
	m, err := s.store.GetMenuItem(ctx, in.RestaurantID, in.MenuItemID)
	if err != nil {
		return nil, err
	}
	branchID := in.BranchID
	if !inScope(m.BranchID, &branchID) {
		return nil, apperr.NotFound("menu_item", in.MenuItemID)
	}

	o := &model.BranchMenuItem{
		RestaurantID: in.RestaurantID,
		BranchID:     in.BranchID,
		MenuItemID:   in.MenuItemID,
		Available:    in.Available,
	}
	if in.Price != nil {
		o.Price = decimal.NewNullDecimal(*in.Price)
	}
	if err := s.store.UpsertOverride(ctx, o); err != nil {
		return nil, err
	}
	s.log.Info("Branch override set",
		zap.Uint("restaurant_id", in.RestaurantID),
		zap.Uint("branch_id", in.BranchID),
		zap.Uint("menu_item_id", in.MenuItemID),
		zap.Bool("available", in.Available))
	return o, nil
}

// ClearOverride removes the branch's override so the item defers to its defaults again
func (s *Service) ClearOverride(ctx context.Context, restaurantID, branchID, menuItemID uint) error {
	if _, err := s.store.GetBranch(ctx, restaurantID, branchID); err != nil {
		return err
	}
	if err := s.store.DeleteOverride(ctx, restaurantID, branchID, menuItemID); err != nil {
		return err
	}
	s.log.Info("Branch override cleared",
		zap.Uint("restaurant_id", restaurantID),
		zap.Uint("branch_id", branchID),
		zap.Uint("menu_item_id", menuItemID))
	return nil
}
