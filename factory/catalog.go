/*
Package factory provides YAML to Go catalog conversion.

PURPOSE:
  Converts YAML catalog definitions into achievements.Definition and
  shop.Item values. Achievements and the starter shop are data: community
  managers edit a file, the factory validates it and seeding writes it.

YAML SCHEMA:
  achievements:
    - name: First Steps
      description: Send your first message
      category: starter
      rarity: common
      reward:
        currency: 10
        xp: 25
      condition:
        field: message_count
        comparator: ">="
        threshold: 1

  shop_items:
    - name: Custom Role Color
      cost: 500
      currency: regular
      category: cosmetic
      stock: -1
      cooldown_minutes: 1440
      requires_input: true
      input_prompt: Which color (hex)?

KEY FEATURES:
  - Validates every definition and item before returning
  - Rejects duplicate achievement names
  - Sets defaults: rarity common, currency regular, stock unlimited, enabled
  - is_true conditions need no threshold

USAGE:
  catalog, err := factory.ParseCatalog(data)
  catalog, err := factory.DefaultCatalog() // embedded catalog.yaml

SEE ALSO:
  - achievements/definition.go: Definition and Condition
  - shop/types.go: Item
  - catalog.yaml: The default catalog
*/
package factory

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/warp/reward-engine/achievements"
	"github.com/warp/reward-engine/ledger"
	"github.com/warp/reward-engine/shop"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// =============================================================================
// YAML SCHEMA TYPES
// =============================================================================

// CatalogYAML is the YAML representation of a catalog file.
type CatalogYAML struct {
	Achievements []AchievementYAML `yaml:"achievements"`
	ShopItems    []ItemYAML        `yaml:"shop_items"`
}

// AchievementYAML represents one achievement definition.
type AchievementYAML struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	Category    string        `yaml:"category,omitempty"`
	Rarity      string        `yaml:"rarity,omitempty"`
	Reward      RewardYAML    `yaml:"reward,omitempty"`
	Condition   ConditionYAML `yaml:"condition"`
}

// RewardYAML represents what an achievement pays out.
type RewardYAML struct {
	Currency int64 `yaml:"currency,omitempty"`
	Premium  int64 `yaml:"premium,omitempty"`
	XP       int64 `yaml:"xp,omitempty"`
}

// ConditionYAML represents the unlock predicate.
type ConditionYAML struct {
	Field      string `yaml:"field"`
	Comparator string `yaml:"comparator,omitempty"` // defaults to >=
	Threshold  int64  `yaml:"threshold,omitempty"`
}

// ItemYAML represents a shop item.
type ItemYAML struct {
	Name                  string `yaml:"name"`
	Description           string `yaml:"description,omitempty"`
	Cost                  int64  `yaml:"cost"`
	Currency              string `yaml:"currency,omitempty"`
	Category              string `yaml:"category,omitempty"`
	IconURL               string `yaml:"icon_url,omitempty"`
	Stock                 *int64 `yaml:"stock,omitempty"` // nil means unlimited
	Disabled              bool   `yaml:"disabled,omitempty"`
	CooldownMinutes       int    `yaml:"cooldown_minutes,omitempty"`
	GlobalCooldownMinutes int    `yaml:"global_cooldown_minutes,omitempty"`
	RequiresInput         bool   `yaml:"requires_input,omitempty"`
	InputPrompt           string `yaml:"input_prompt,omitempty"`
	AutoFulfill           bool   `yaml:"auto_fulfill,omitempty"`
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog is a validated set of achievements and shop items.
type Catalog struct {
	Achievements []achievements.Definition
	Items        []shop.Item
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// LoadCatalog reads a catalog file. An empty path returns the default.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses and validates catalog YAML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var cy CatalogYAML
	if err := yaml.Unmarshal(data, &cy); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}
	return FromYAML(cy)
}

// FromYAML converts CatalogYAML into domain types.
func FromYAML(cy CatalogYAML) (*Catalog, error) {
	c := &Catalog{}

	seen := make(map[string]bool, len(cy.Achievements))
	for i, ay := range cy.Achievements {
		def, err := parseAchievement(ay)
		if err != nil {
			return nil, fmt.Errorf("achievements[%d]: %w", i, err)
		}
		if seen[def.Name] {
			return nil, fmt.Errorf("achievements[%d]: duplicate name %q", i, def.Name)
		}
		seen[def.Name] = true
		c.Achievements = append(c.Achievements, def)
	}

	for i, iy := range cy.ShopItems {
		item, err := parseItem(iy)
		if err != nil {
			return nil, fmt.Errorf("shop_items[%d]: %w", i, err)
		}
		c.Items = append(c.Items, item)
	}

	return c, nil
}

// ToYAML converts a catalog back to its YAML form.
func ToYAML(c *Catalog) CatalogYAML {
	var cy CatalogYAML
	for _, d := range c.Achievements {
		cy.Achievements = append(cy.Achievements, AchievementYAML{
			Name:        d.Name,
			Description: d.Description,
			Category:    d.Category,
			Rarity:      string(d.Rarity),
			Reward:      RewardYAML{Currency: d.RewardCurrency, Premium: d.RewardPremium, XP: d.RewardXP},
			Condition: ConditionYAML{
				Field:      string(d.Condition.Field),
				Comparator: string(d.Condition.Comparator),
				Threshold:  d.Condition.Threshold,
			},
		})
	}
	for _, it := range c.Items {
		stock := it.Stock
		cy.ShopItems = append(cy.ShopItems, ItemYAML{
			Name:                  it.Name,
			Description:           it.Description,
			Cost:                  it.Cost,
			Currency:              string(it.Currency),
			Category:              it.Category,
			IconURL:               it.IconURL,
			Stock:                 &stock,
			Disabled:              !it.Enabled,
			CooldownMinutes:       it.CooldownMinutes,
			GlobalCooldownMinutes: it.GlobalCooldownMinutes,
			RequiresInput:         it.RequiresInput,
			InputPrompt:           it.InputPrompt,
			AutoFulfill:           it.AutoFulfill,
		})
	}
	return cy
}

// Marshal renders a catalog as YAML.
func Marshal(c *Catalog) ([]byte, error) {
	return yaml.Marshal(ToYAML(c))
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseAchievement(ay AchievementYAML) (achievements.Definition, error) {
	def := achievements.Definition{
		Name:           strings.TrimSpace(ay.Name),
		Description:    ay.Description,
		Category:       ay.Category,
		Rarity:         parseRarity(ay.Rarity),
		RewardCurrency: ay.Reward.Currency,
		RewardPremium:  ay.Reward.Premium,
		RewardXP:       ay.Reward.XP,
		Condition: achievements.Condition{
			Field:      achievements.Field(ay.Condition.Field),
			Comparator: parseComparator(ay.Condition.Comparator),
			Threshold:  ay.Condition.Threshold,
		},
	}
	return def, def.Validate()
}

func parseItem(iy ItemYAML) (shop.Item, error) {
	item := shop.Item{
		Name:                  strings.TrimSpace(iy.Name),
		Description:           iy.Description,
		Cost:                  iy.Cost,
		Currency:              parseCurrency(iy.Currency),
		Category:              iy.Category,
		IconURL:               iy.IconURL,
		Stock:                 shop.UnlimitedStock,
		Enabled:               !iy.Disabled,
		CooldownMinutes:       iy.CooldownMinutes,
		GlobalCooldownMinutes: iy.GlobalCooldownMinutes,
		RequiresInput:         iy.RequiresInput,
		InputPrompt:           iy.InputPrompt,
		AutoFulfill:           iy.AutoFulfill,
	}
	if iy.Stock != nil {
		item.Stock = *iy.Stock
	}
	return item, item.Validate()
}

func parseRarity(s string) achievements.Rarity {
	if s == "" {
		return achievements.RarityCommon
	}
	return achievements.Rarity(strings.ToLower(s))
}

func parseComparator(s string) achievements.Comparator {
	switch strings.TrimSpace(s) {
	case "":
		return achievements.CompareGTE
	case "true", "is_true":
		return achievements.CompareIsTrue
	default:
		return achievements.Comparator(strings.TrimSpace(s))
	}
}

func parseCurrency(s string) ledger.CurrencyType {
	if s == "" {
		return ledger.CurrencyRegular
	}
	return ledger.CurrencyType(strings.ToLower(s))
}
