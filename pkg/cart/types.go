// Package cart provides the cart synchronization engine: one consistent
// cart view across anonymous and authenticated sessions, reconciling a
// client-local item list with the server-authoritative cart.
package cart

import (
	"sort"

	"github.com/google/uuid"
)

// Colors is the color selection of a custom design.
type Colors struct {
	Band string `json:"band"`
	Face string `json:"face"`
	Rim  string `json:"rim"`
}

// Accessory is one accessory placement on a custom design.
type Accessory struct {
	AccessoryID string `json:"accessoryId"`
	Position    int    `json:"position"`
}

// CustomDesign is a full product configuration. The backend's line-item
// model cannot represent it; items carrying one live only on the client.
type CustomDesign struct {
	ProductID    string      `json:"productId"`
	TemplateID   string      `json:"templateId"`
	Colors       Colors      `json:"colors"`
	Accessories  []Accessory `json:"accessories,omitempty"`
	Engrave      string      `json:"engrave,omitempty"`
	UnitPrice    int64       `json:"unitPrice"`
	PreviewImage string      `json:"previewImage,omitempty"`
}

// SameConfiguration reports whether two designs describe the same
// configuration: equal product, template, colors, accessory set and
// engraving. Price and preview image are derived data and do not
// participate. This equality is the de-duplication key when adding to
// the cart.
func (d CustomDesign) SameConfiguration(other CustomDesign) bool {
	if d.ProductID != other.ProductID ||
		d.TemplateID != other.TemplateID ||
		d.Colors != other.Colors ||
		d.Engrave != other.Engrave {
		return false
	}
	return sameAccessorySet(d.Accessories, other.Accessories)
}

// sameAccessorySet compares accessories as a set, ignoring order.
func sameAccessorySet(a, b []Accessory) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]Accessory(nil), a...)
	bs := append([]Accessory(nil), b...)
	less := func(s []Accessory) func(i, j int) bool {
		return func(i, j int) bool {
			if s[i].AccessoryID != s[j].AccessoryID {
				return s[i].AccessoryID < s[j].AccessoryID
			}
			return s[i].Position < s[j].Position
		}
	}
	sort.Slice(as, less(as))
	sort.Slice(bs, less(bs))
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// LineItem is one cart line. Remote items carry a backend-issued UUID
// and their authoritative fields are refreshed by re-fetch; local-only
// items carry a client-generated token and never travel to the backend.
type LineItem struct {
	ID       string       `json:"id"`
	Design   CustomDesign `json:"design"`
	Quantity int          `json:"quantity"`
}

// IsLocal reports whether the item exists only on this client.
func (i LineItem) IsLocal() bool {
	return !IsRemoteID(i.ID)
}

// localIDPrefix keeps client-generated tokens from ever parsing as a
// backend UUID.
const localIDPrefix = "local-"

// IsRemoteID reports whether an item ID is backend-issued. The backend
// issues UUIDs; anything else is a client-generated token for a
// local-only item.
func IsRemoteID(id string) bool {
	return uuid.Validate(id) == nil
}

// NewLocalID generates a unique token for a local-only item.
func NewLocalID() string {
	return localIDPrefix + uuid.NewString()
}
