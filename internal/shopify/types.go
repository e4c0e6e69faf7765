package shopify

import (
	"encoding/json"
	"strconv"
)

// Types for the Shopify storefront AJAX API. These mirror the JSON the
// theme-facing endpoints return: /products/{handle}.js, /cart.js,
// /cart/add.js and /cart/change.js. All money fields are in cents.

// Product is the /products/{handle}.js response, reduced to the fields the
// gateway reads.
type Product struct {
	ID       int64     `json:"id"`
	Title    string    `json:"title"`
	Handle   string    `json:"handle"`
	Vendor   string    `json:"vendor"`
	Price    int64     `json:"price"`
	Tags     []string  `json:"tags"`
	Variants []Variant `json:"variants"`
}

// Variant is one purchasable variant of a product.
type Variant struct {
	ID    int64 `json:"id"`
	Price int64 `json:"price"`
}

// Cart is the /cart.js response.
type Cart struct {
	Token      string     `json:"token"`
	ItemCount  int        `json:"item_count"`
	TotalPrice int64      `json:"total_price"`
	Items      []CartItem `json:"items"`
}

// CartItem is one cart line. Key is the stable line identifier
// ("variantid:hash"); the 1-based line position is the index in Items plus
// one and shifts whenever lines above it are removed.
type CartItem struct {
	Key        string     `json:"key"`
	VariantID  int64      `json:"variant_id"`
	ProductID  int64      `json:"product_id"`
	Quantity   int        `json:"quantity"`
	Title      string     `json:"title"`
	Price      int64      `json:"price"`
	FinalPrice int64      `json:"final_price"`
	Handle     string     `json:"handle"`
	Properties Properties `json:"properties"`
}

// Properties holds line item properties. Shopify serializes them as a JSON
// object whose values are usually strings, but themes can write numbers or
// null; everything is coerced to a string on decode.
type Properties map[string]string

func (p *Properties) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		// Some themes serialize empty properties as [] rather than {}
		*p = nil
		return nil
	}
	out := make(Properties, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			b, _ := json.Marshal(val)
			out[k] = string(b)
		}
	}
	*p = out
	return nil
}

// AddItem is one entry in a /cart/add.js request.
type AddItem struct {
	ID         int64             `json:"id"`
	Quantity   int               `json:"quantity"`
	Properties map[string]string `json:"properties,omitempty"`
}

// AddRequest is the /cart/add.js request body.
type AddRequest struct {
	Items []AddItem `json:"items"`
}

// AddResponse is the /cart/add.js response: only the lines just added, not
// the full cart.
type AddResponse struct {
	Items []CartItem `json:"items"`
}

// ChangeRequest is the /cart/change.js request body. Exactly one of Line
// (1-based position) or ID (line key) identifies the target.
type ChangeRequest struct {
	Line     int    `json:"line,omitempty"`
	ID       string `json:"id,omitempty"`
	Quantity int    `json:"quantity"`
}

// ErrorResponse is Shopify's AJAX error body.
type ErrorResponse struct {
	Status      int    `json:"status"`
	Message     string `json:"message"`
	Description string `json:"description"`
}
