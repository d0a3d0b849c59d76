package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/nimasrn/credit-topup/internal/model"
)

var ErrBundleNotFound = errors.New("bundle not found")

// DefaultBundles is the built-in price list used when no catalog file is
// configured.
var DefaultBundles = []model.Bundle{
	{ID: "sms-1000", Channel: model.ChannelSMS, Credits: 1000, PriceGHS: 5},
	{ID: "sms-5000", Channel: model.ChannelSMS, Credits: 5000, PriceGHS: 25},
	{ID: "sms-10000", Channel: model.ChannelSMS, Credits: 10000, PriceGHS: 50},
	{ID: "whatsapp-500", Channel: model.ChannelWhatsApp, Credits: 500, PriceGHS: 10},
	{ID: "whatsapp-2000", Channel: model.ChannelWhatsApp, Credits: 2000, PriceGHS: 35},
}

type key struct {
	channel model.Channel
	id      string
}

// Catalog is an immutable in-memory price list keyed by channel and bundle id.
type Catalog struct {
	bundles map[key]model.Bundle
}

func New(bundles []model.Bundle) (*Catalog, error) {
	c := &Catalog{bundles: make(map[key]model.Bundle, len(bundles))}
	for _, b := range bundles {
		ch, err := model.ParseChannel(b.Channel.String())
		if err != nil {
			return nil, fmt.Errorf("bundle %q: %w", b.ID, err)
		}
		b.Channel = ch
		b.ID = strings.TrimSpace(b.ID)
		if b.ID == "" {
			return nil, errors.New("bundle id is required")
		}
		if b.Credits <= 0 {
			return nil, fmt.Errorf("bundle %q: credits must be positive", b.ID)
		}
		k := key{channel: ch, id: b.ID}
		if _, dup := c.bundles[k]; dup {
			return nil, fmt.Errorf("bundle %q: duplicate for channel %s", b.ID, ch)
		}
		c.bundles[k] = b
	}
	return c, nil
}

// Default returns the catalog built from DefaultBundles.
func Default() *Catalog {
	c, err := New(DefaultBundles)
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads a JSON array of bundles from path. An empty path yields Default.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle catalog: %w", err)
	}
	var bundles []model.Bundle
	if err := json.Unmarshal(raw, &bundles); err != nil {
		return nil, fmt.Errorf("decode bundle catalog: %w", err)
	}
	return New(bundles)
}

func (c *Catalog) Lookup(channel model.Channel, bundleID string) (model.Bundle, error) {
	b, ok := c.bundles[key{channel: channel, id: bundleID}]
	if !ok {
		return model.Bundle{}, fmt.Errorf("%w: %s/%s", ErrBundleNotFound, channel, bundleID)
	}
	return b, nil
}

// List returns every bundle ordered by channel then credits.
func (c *Catalog) List() []model.Bundle {
	out := make([]model.Bundle, 0, len(c.bundles))
	for _, b := range c.bundles {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Channel != out[j].Channel {
			return out[i].Channel < out[j].Channel
		}
		return out[i].Credits < out[j].Credits
	})
	return out
}
