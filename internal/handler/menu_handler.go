package handler

import (
	"net/http"
	"strings"

	"restaurant-service/internal/catalog"
	"restaurant-service/internal/model"
	"restaurant-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CategoryRequest defines the structure for category creation requests
type CategoryRequest struct {
	Name      string `json:"name" validate:"required,max=120"`
	BranchID  *uint  `json:"branch_id" validate:"omitempty,gt=0"`
	SortOrder int    `json:"sort_order"`
}

type RecipeLineRequest struct {
	InventoryItemID uint            `json:"inventory_item_id" validate:"required"`
	Quantity        decimal.Decimal `json:"quantity"`
}

// MenuItemRequest is shared by create and update; nil flags keep stored values on update
type MenuItemRequest struct {
	Name                string              `json:"name" validate:"required,max=160"`
	Description         string              `json:"description" validate:"max=2000"`
	Price               decimal.Decimal     `json:"price"`
	BranchID            *uint               `json:"branch_id" validate:"omitempty,gt=0"`
	CategoryID          *uint               `json:"category_id" validate:"omitempty,gt=0"`
	Available           *bool               `json:"available"`
	AvailableEverywhere *bool               `json:"available_everywhere"`
	ShowOnWebsite       *bool               `json:"show_on_website"`
	Ingredients         []RecipeLineRequest `json:"ingredients" validate:"dive"`
}

func (r MenuItemRequest) input(restaurantID uint) catalog.MenuItemInput {
	lines := make([]model.RecipeLine, 0, len(r.Ingredients))
	for _, l := range r.Ingredients {
		lines = append(lines, model.RecipeLine{InventoryItemID: l.InventoryItemID, Quantity: l.Quantity})
	}
	return catalog.MenuItemInput{
		RestaurantID:        restaurantID,
		BranchID:            r.BranchID,
		CategoryID:          r.CategoryID,
		Name:                r.Name,
		Description:         r.Description,
		Price:               r.Price,
		Available:           r.Available,
		AvailableEverywhere: r.AvailableEverywhere,
		ShowOnWebsite:       r.ShowOnWebsite,
		Ingredients:         lines,
	}
}

// OverrideRequest sets a branch's price and availability for one menu item
type OverrideRequest struct {
	Price     *decimal.Decimal `json:"price"`
	Available bool             `json:"available"`
}

// PublicMenu serves the website menu: visible, orderable items grouped by category
func (h *Handler) PublicMenu(c echo.Context) error {
	log := logger.FromContext(c)

	rid, err := pathUint(c, "restaurant_id")
	if err != nil {
		return fail(c, err)
	}
	branchID, err := optionalUint(c.QueryParam("branch_id"), "branch_id")
	if err != nil {
		return fail(c, err)
	}

	menu, err := h.resolver.ResolveMenu(c.Request().Context(), rid, branchID, catalog.Filters{
		OnlyAvailable: true,
		WebsiteOnly:   true,
		ExcludeEmpty:  true,
	})
	if err != nil {
		return fail(c, err)
	}

	log.Info("Public menu served",
		zap.Uint("restaurant_id", rid),
		zap.Int("count", len(menu.Items)))
	return c.JSON(http.StatusOK, menu)
}

// GetMenu resolves the effective menu for staff, including unavailable items unless asked otherwise
func (h *Handler) GetMenu(c echo.Context) error {
	log := logger.FromContext(c)

	rid, err := restaurantID(c)
	if err != nil {
		return fail(c, err)
	}
	branchID, err := branchScope(c)
	if err != nil {
		return fail(c, err)
	}

	var f catalog.Filters
	if f.CategoryID, err = optionalUint(c.QueryParam("category_id"), "category_id"); err != nil {
		return fail(c, err)
	}
	if f.OnlyAvailable, err = optionalBool(c.QueryParam("available"), "available"); err != nil {
		return fail(c, err)
	}
	if f.WebsiteOnly, err = optionalBool(c.QueryParam("website"), "website"); err != nil {
		return fail(c, err)
	}
	if f.ExcludeEmpty, err = optionalBool(c.QueryParam("exclude_empty"), "exclude_empty"); err != nil {
		return fail(c, err)
	}
	f.Search = strings.TrimSpace(c.QueryParam("search"))

	menu, err := h.resolver.ResolveMenu(c.Request().Context(), rid, branchID, f)
	if err != nil {
		return fail(c, err)
	}

	log.Info("Menu resolved", zap.Uint("restaurant_id", rid), zap.Int("count", len(menu.Items)))
	return c.JSON(http.StatusOK, menu)
}

// CreateCategory adds a menu category
func (h *Handler) CreateCategory(c echo.Context) error {
	log := logger.FromContext(c)

	rid, err := restaurantID(c)
	if err != nil {
		return fail(c, err)
	}
	var req CategoryRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	if err := checkBound(c, req.BranchID); err != nil {
		return fail(c, err)
	}

	category, err := h.catalog.CreateCategory(c.Request().Context(), catalog.CreateCategoryInput{
		RestaurantID: rid,
		BranchID:     req.BranchID,
		Name:         req.Name,
		SortOrder:    req.SortOrder,
	})
	if err != nil {
		return fail(c, err)
	}

	log.Info("Category created successfully",
		zap.Uint("category_id", category.ID),
		zap.String("name", category.Name))
	return c.JSON(http.StatusCreated, category)
}

// CreateMenuItem adds a menu item with its recipe
func (h *Handler) CreateMenuItem(c echo.Context) error {
	log := logger.FromContext(c)

	rid, err := restaurantID(c)
	if err != nil {
		return fail(c, err)
	}
	var req MenuItemRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	if err := checkBound(c, req.BranchID); err != nil {
		return fail(c, err)
	}

	item, err := h.catalog.CreateMenuItem(c.Request().Context(), req.input(rid))
	if err != nil {
		return fail(c, err)
	}

	log.Info("Menu item created successfully",
		zap.Uint("menu_item_id", item.ID),
		zap.String("name", item.Name))
	return c.JSON(http.StatusCreated, item)
}

// UpdateMenuItem replaces a menu item's fields and recipe
func (h *Handler) UpdateMenuItem(c echo.Context) error {
	log := logger.FromContext(c)

	rid, err := restaurantID(c)
	if err != nil {
		return fail(c, err)
	}
	id, err := pathUint(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var req MenuItemRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}
	if err := checkBound(c, req.BranchID); err != nil {
		return fail(c, err)
	}
	if branchOf(c) != nil {
		stored, err := h.catalog.GetMenuItem(c.Request().Context(), rid, id)
		if err != nil {
			return fail(c, err)
		}
		if err := checkBound(c, stored.BranchID); err != nil {
			return fail(c, err)
		}
	}

	item, err := h.catalog.UpdateMenuItem(c.Request().Context(), id, req.input(rid))
	if err != nil {
		return fail(c, err)
	}

	log.Info("Menu item updated successfully", zap.Uint("menu_item_id", item.ID))
	return c.JSON(http.StatusOK, item)
}

// SetOverride upserts a branch override
func (h *Handler) SetOverride(c echo.Context) error {
	log := logger.FromContext(c)

	rid, err := restaurantID(c)
	if err != nil {
		return fail(c, err)
	}
	branchID, err := h.pathBranch(c)
	if err != nil {
		return fail(c, err)
	}
	itemID, err := pathUint(c, "menu_item_id")
	if err != nil {
		return fail(c, err)
	}
	var req OverrideRequest
	if err := bind(c, &req); err != nil {
		return fail(c, err)
	}

	override, err := h.catalog.SetOverride(c.Request().Context(), catalog.SetOverrideInput{
		RestaurantID: rid,
		BranchID:     branchID,
		MenuItemID:   itemID,
		Price:        req.Price,
		Available:    req.Available,
	})
	if err != nil {
		return fail(c, err)
	}

	log.Info("Branch override saved",
		zap.Uint("branch_id", branchID),
		zap.Uint("menu_item_id", itemID))
	return c.JSON(http.StatusOK, override)
}

// ClearOverride removes a branch override so the base values apply again
func (h *Handler) ClearOverride(c echo.Context) error {
	log := logger.FromContext(c)

	rid, err := restaurantID(c)
	if err != nil {
		return fail(c, err)
	}
	branchID, err := h.pathBranch(c)
	if err != nil {
		return fail(c, err)
	}
	itemID, err := pathUint(c, "menu_item_id")
	if err != nil {
		return fail(c, err)
	}

	if err := h.catalog.ClearOverride(c.Request().Context(), rid, branchID, itemID); err != nil {
		return fail(c, err)
	}

	log.Info("Branch override cleared",
		zap.Uint("branch_id", branchID),
		zap.Uint("menu_item_id", itemID))
	return c.NoContent(http.StatusNoContent)
}

// pathBranch reads :branch_id and refuses branches other than the token's own
func (h *Handler) pathBranch(c echo.Context) (uint, error) {
	id, err := pathUint(c, "branch_id")
	if err != nil {
		return 0, err
	}
	if bound := branchOf(c); bound != nil && *bound != id {
		return 0, echo.NewHTTPError(http.StatusForbidden, "token is bound to another branch")
	}
	return id, nil
}
