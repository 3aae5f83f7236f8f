package factory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reward-engine/achievements"
	"github.com/warp/reward-engine/factory"
	"github.com/warp/reward-engine/ledger"
	"github.com/warp/reward-engine/shop"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := factory.DefaultCatalog()
	require.NoError(t, err)

	assert.Len(t, c.Achievements, 16)
	assert.NotEmpty(t, c.Items)

	byName := map[string]achievements.Definition{}
	for _, d := range c.Achievements {
		byName[d.Name] = d
	}

	first := byName["First Steps"]
	assert.Equal(t, achievements.FieldMessageCount, first.Condition.Field)
	assert.Equal(t, achievements.CompareGTE, first.Condition.Comparator)
	assert.Equal(t, int64(1), first.Condition.Threshold)
	assert.Equal(t, int64(10), first.RewardCurrency)
	assert.Equal(t, int64(25), first.RewardXP)

	link := byName["Link Up"]
	assert.Equal(t, achievements.CompareIsTrue, link.Condition.Comparator)
	assert.Equal(t, int64(2), link.RewardPremium)
}

func TestParseCatalog_Defaults(t *testing.T) {
	c, err := factory.ParseCatalog([]byte(`
achievements:
  - name: Talker
    condition: {field: message_count, threshold: 5}
shop_items:
  - name: Hug
    cost: 3
`))
	require.NoError(t, err)
	require.Len(t, c.Achievements, 1)
	require.Len(t, c.Items, 1)

	d := c.Achievements[0]
	assert.Equal(t, achievements.RarityCommon, d.Rarity)
	assert.Equal(t, achievements.CompareGTE, d.Condition.Comparator)

	item := c.Items[0]
	assert.Equal(t, ledger.CurrencyRegular, item.Currency)
	assert.Equal(t, shop.UnlimitedStock, item.Stock)
	assert.True(t, item.Enabled)
}

func TestParseCatalog_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown field": `
achievements:
  - name: A
    condition: {field: karma, threshold: 1}`,
		"unknown comparator": `
achievements:
  - name: A
    condition: {field: level, comparator: "!=", threshold: 1}`,
		"duplicate name": `
achievements:
  - name: A
    condition: {field: level, threshold: 1}
  - name: A
    condition: {field: level, threshold: 2}`,
		"bad rarity": `
achievements:
  - name: A
    rarity: mythic
    condition: {field: level, threshold: 1}`,
		"zero cost": `
shop_items:
  - name: Free`,
		"bad currency": `
shop_items:
  - name: Gem
    cost: 1
    currency: gold`,
		"bad stock": `
shop_items:
  - name: Gem
    cost: 1
    stock: -5`,
		"not yaml": `achievements: [`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := factory.ParseCatalog([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestMarshal_ParsesBack(t *testing.T) {
	c, err := factory.DefaultCatalog()
	require.NoError(t, err)

	data, err := factory.Marshal(c)
	require.NoError(t, err)

	again, err := factory.ParseCatalog(data)
	require.NoError(t, err)
	assert.Equal(t, c.Achievements, again.Achievements)
	assert.Equal(t, c.Items, again.Items)
}

func TestLoadCatalog_EmptyPathIsDefault(t *testing.T) {
	c, err := factory.LoadCatalog("")
	require.NoError(t, err)
	assert.Len(t, c.Achievements, 16)

	_, err = factory.LoadCatalog("/does/not/exist.yaml")
	assert.Error(t, err)
}
