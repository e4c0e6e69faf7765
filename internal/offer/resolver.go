// Package offer decides whether a product gets a warranty offer, on which
// surface, and tracks the shopper's plan selection and decline state.
package offer

import (
	"context"
	"log/slog"

	"flexgate/internal/model"
	"flexgate/internal/pricing"
)

// PricingAPI is the slice of the pricing client the resolver uses.
type PricingAPI interface {
	GetOptions(ctx context.Context, priceCents int64, categoryTag string) ([]model.PricingOption, error)
	GetFullOffer(ctx context.Context, priceCents int64, categoryTag string) (*pricing.FullOffer, error)
}

// ResolverConfig holds the eligibility rules and enabled surfaces.
type ResolverConfig struct {
	WarrantyVendor string
	MinPriceCents  int64
	Placement      model.PlacementConfig
}

// Resolver computes offers. It is read-only: resolving never mutates
// session or cart state.
type Resolver struct {
	pricing PricingAPI
	cfg     ResolverConfig
	logger  *slog.Logger
}

// NewResolver creates a resolver.
func NewResolver(p PricingAPI, cfg ResolverConfig, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{pricing: p, cfg: cfg, logger: logger}
}

// Eligible checks the product against the program rules. Returns nil when
// eligible, or an ineligibility error naming the failed rule.
func (r *Resolver) Eligible(p *model.ProductInfo) error {
	if p.Vendor == r.cfg.WarrantyVendor {
		return model.NewIneligibleError("product is a warranty product")
	}
	if p.Price < r.cfg.MinPriceCents {
		return model.NewIneligibleError("product price below program minimum")
	}
	if p.CategoryTag == "" {
		return model.NewIneligibleError("product has no priced category tag")
	}
	return nil
}

// Placement returns the surface offers render on, by precedence:
// product page, then modal, then cart. None when every surface is off.
func (r *Resolver) Placement() model.Placement {
	switch {
	case r.cfg.Placement.ProductPage:
		return model.PlacementProductPage
	case r.cfg.Placement.OfferModal:
		return model.PlacementOfferModal
	case r.cfg.Placement.Cart:
		return model.PlacementCart
	default:
		return model.PlacementNone
	}
}

// Resolve computes the offer for a product view. An ineligible product, a
// disabled program, a pricing failure, or an empty option list all resolve
// to no offer; only the pricing failure is logged, none of them surface to
// the shopper.
func (r *Resolver) Resolve(ctx context.Context, p *model.ProductInfo) (*model.Offer, error) {
	none := &model.Offer{Placement: model.PlacementNone, Product: *p}

	if err := r.Eligible(p); err != nil {
		return none, nil
	}
	placement := r.Placement()
	if placement == model.PlacementNone {
		return none, nil
	}

	if placement == model.PlacementOfferModal {
		full, err := r.pricing.GetFullOffer(ctx, p.Price, p.CategoryTag)
		if err != nil {
			r.logger.Warn("full offer lookup failed, suppressing offer",
				"product", p.Key(), "error", err)
			return none, nil
		}
		if len(full.Options) == 0 {
			return none, nil
		}
		return &model.Offer{
			Placement:   placement,
			Product:     *p,
			Options:     full.Options,
			IncludesADH: full.IncludesADH,
		}, nil
	}

	options, err := r.pricing.GetOptions(ctx, p.Price, p.CategoryTag)
	if err != nil {
		r.logger.Warn("pricing lookup failed, suppressing offer",
			"product", p.Key(), "error", err)
		return none, nil
	}
	if len(options) == 0 {
		return none, nil
	}
	return &model.Offer{
		Placement: placement,
		Product:   *p,
		Options:   options,
	}, nil
}
