package cache

import "time"

// Default freshness windows per resource class. All overridable per
// call site through Options.TTL.
const (
	TTLCatalogListing = 5 * time.Minute
	TTLProductDetail  = 10 * time.Minute
	TTLCategoryList   = 30 * time.Minute
	TTLGeography      = 24 * time.Hour
	TTLOrderData      = 2 * time.Minute
	TTLCartSnapshot   = 1 * time.Minute
)
