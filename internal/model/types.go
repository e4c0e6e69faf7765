// Package model defines data structures shared by the Flex Protect embed
// gateway: product and pricing info, offer placement, plan selection, and
// the warranty marker protocol layered on Shopify cart line properties.
package model

import (
	"fmt"
	"strconv"
	"strings"
)

// === Product ===

// ProductInfo describes the product being protected. Derived once per page
// view from the storefront's /products/{handle}.js endpoint and immutable
// afterwards. Price is in cents.
type ProductInfo struct {
	ID          int64    `json:"id"`
	Handle      string   `json:"handle"`
	Title       string   `json:"title"`
	Price       int64    `json:"price"`
	Vendor      string   `json:"vendor"`
	Tags        []string `json:"tags"`
	CategoryTag string   `json:"category_tag"`
	VariantID   int64    `json:"variant_id"`
}

// Key identifies the product for per-product persistence (decline flags).
// Prefers the handle; falls back to the numeric id.
func (p *ProductInfo) Key() string {
	if p.Handle != "" {
		return p.Handle
	}
	return strconv.FormatInt(p.ID, 10)
}

// CategoryTags lists the product category tags the pricing API prices.
// Mirrors the insurer's rate tables; a product without one of these tags is
// not warranty-eligible.
var CategoryTags = []string{
	"Consumer Electronics",
	"Desktops, Laptops",
	"Tablets",
	"TVs",
}

// DetectCategoryTag returns the first recognized category tag among the
// product's tags, or "" if none match. Matching is case-insensitive.
func DetectCategoryTag(tags []string) string {
	for _, tag := range tags {
		for _, known := range CategoryTags {
			if strings.EqualFold(strings.TrimSpace(tag), known) {
				return known
			}
		}
	}
	return ""
}

// === Offer ===

// Placement identifies the surface an offer is rendered on.
type Placement string

const (
	PlacementNone        Placement = "none"
	PlacementProductPage Placement = "product_page"
	PlacementOfferModal  Placement = "offer_modal"
	PlacementCart        Placement = "cart"
)

// PlacementConfig holds the merchant's enabled offer surfaces.
type PlacementConfig struct {
	ProductPage bool `json:"product_page"`
	OfferModal  bool `json:"offer_modal"`
	Cart        bool `json:"cart"`
	LearnMore   bool `json:"learn_more"`
}

// PricingOption is a purchasable warranty term. Price is in cents.
type PricingOption struct {
	Term        int    `json:"term"`
	Price       int64  `json:"price"`
	DisplayName string `json:"display_name,omitempty"`
}

// Offer is the resolved merchandising payload for one product view:
// where to show the offer and which terms are available.
type Offer struct {
	Placement   Placement       `json:"placement"`
	Product     ProductInfo     `json:"product"`
	Options     []PricingOption `json:"options"`
	IncludesADH bool            `json:"includes_adh"`
	SessionHint string          `json:"session_hint,omitempty"`
}

// Selection is the shopper's current plan choice. A session holds at most
// one; selecting a new term replaces it, re-selecting the active term
// clears it.
type Selection struct {
	Term  int   `json:"term"`
	Price int64 `json:"price"`
}

// TermLabel renders a term as the cart property value, e.g. "2 year".
func TermLabel(term int) string {
	return fmt.Sprintf("%d year", term)
}

// === Warranty marker protocol ===
//
// A warranty cart line is tagged through Shopify line item properties so it
// survives round trips through the host cart untouched. Parent references
// the protected line's numeric variant id; a warranty line whose parent
// variant is no longer in the cart is an orphan and must be removed.

const (
	PropIsWarranty = "IsWarranty"
	PropTerm       = "Term"
	PropPrice      = "Price"
	PropParent     = "Parent"
)

// WarrantyProperties builds the marker properties for a warranty line.
// parentVariant may be 0 when the parent line is added separately by the
// theme's own flow; the property is then left empty.
func WarrantyProperties(term int, price int64, parentVariant int64) map[string]string {
	props := map[string]string{
		PropIsWarranty: "true",
		PropTerm:       TermLabel(term),
		PropPrice:      FormatCents(price),
		PropParent:     "",
	}
	if parentVariant > 0 {
		props[PropParent] = strconv.FormatInt(parentVariant, 10)
	}
	return props
}

// IsWarrantyProps reports whether a line's properties carry the warranty
// marker.
func IsWarrantyProps(props map[string]string) bool {
	return strings.EqualFold(props[PropIsWarranty], "true")
}

// ParentVariant extracts the declared parent variant id from warranty line
// properties. Returns 0 when absent or malformed.
func ParentVariant(props map[string]string) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(props[PropParent]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// === Variant GID ===

// variantGIDPrefix is the Shopify global id prefix the pricing select
// endpoint must return.
const variantGIDPrefix = "gid://shopify/ProductVariant/"

// ParseVariantGID extracts the numeric variant id from a Shopify variant
// global id. Anything that is not gid://shopify/ProductVariant/<digits> is
// rejected; callers must abort the add without touching the cart.
func ParseVariantGID(gid string) (int64, error) {
	gid = strings.TrimSpace(gid)
	rest, ok := strings.CutPrefix(gid, variantGIDPrefix)
	if !ok {
		return 0, fmt.Errorf("variant id %q is not a product variant gid", gid)
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("variant gid %q has a malformed numeric id", gid)
	}
	return id, nil
}
