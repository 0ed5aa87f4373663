package catalog

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `{
  "t3.micro.Linux": {
    "sku": "SKU1",
    "terms": {
      "SKU1.JRTCKXETXF": {
        "priceDimensions": {
          "SKU1.JRTCKXETXF.6YS6EN2CT7": {"unit": "Hrs", "pricePerUnit": {"USD": "0.0104000000"}}
        }
      }
    }
  },
  "m5.large.Windows": {
    "terms": {"unit": "Hrs", "pricePerUnit": {"USD": "0.1880000000"}}
  },
  "c5.xlarge.Linux": {
    "terms": {
      "B.TERM": {"priceDimensions": {"B.RATE": {"pricePerUnit": {"USD": "9.0"}}}},
      "A.TERM": {"priceDimensions": {
        "A.RATE2": {"pricePerUnit": {"USD": "2.0"}},
        "A.RATE1": {"pricePerUnit": {"USD": "1.0"}}
      }}
    }
  },
  "x1.huge.Linux": {"terms": {"unit": "Hrs", "pricePerUnit": {"EUR": "1.0"}}}
}`

func loadTest(t *testing.T) *Catalog {
	t.Helper()
	c, err := Parse(strings.NewReader(testCatalog))
	require.NoError(t, err)
	return c
}

func TestKey(t *testing.T) {
	assert.Equal(t, "t3.micro.Linux", Key("t3.micro", ""))
	assert.Equal(t, "t3.micro.Windows", Key("t3.micro", "windows"))
	assert.Equal(t, "t3.micro.Linux", Key("t3.micro", "LINUX"))
}

func TestPriceFor_NestedTerms(t *testing.T) {
	c := loadTest(t)

	e, err := c.PriceFor("t3.micro", "")
	require.NoError(t, err)

	assert.Equal(t, "t3.micro.Linux", e.Key)
	assert.InDelta(t, 0.0104, e.HourlyUSD, 1e-9)
	terms, ok := e.Product["terms"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Hrs", terms["unit"])
	assert.Equal(t, "SKU1", e.Product["sku"])
}

func TestPriceFor_FlatTermsFallback(t *testing.T) {
	c := loadTest(t)

	e, err := c.PriceFor("m5.large", "windows")
	require.NoError(t, err)
	assert.InDelta(t, 0.188, e.HourlyUSD, 1e-9)
}

func TestPriceFor_MultipleDimensionsFirstSortedKeyWins(t *testing.T) {
	c := loadTest(t)

	for i := 0; i < 20; i++ {
		e, err := c.PriceFor("c5.xlarge", "linux")
		require.NoError(t, err)
		assert.InDelta(t, 1.0, e.HourlyUSD, 1e-9)
	}
}

func TestPriceFor_Miss(t *testing.T) {
	c := loadTest(t)

	_, err := c.PriceFor("t3.micro", "windows")
	require.ErrorIs(t, err, ErrCatalogMiss)
	assert.Contains(t, err.Error(), "t3.micro.Windows")
}

func TestPriceFor_NoUSD(t *testing.T) {
	c := loadTest(t)

	_, err := c.PriceFor("x1.huge", "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCatalogMiss)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse(strings.NewReader("{not json"))
	require.Error(t, err)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

type mockPricingClient struct {
	pages [][]string
	calls int
	err   error
}

func (m *mockPricingClient) GetProducts(_ context.Context, params *pricing.GetProductsInput, _ ...func(*pricing.Options)) (*pricing.GetProductsOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	page := m.pages[m.calls]
	m.calls++
	out := &pricing.GetProductsOutput{PriceList: page}
	if m.calls < len(m.pages) {
		out.NextToken = aws.String("next")
	}
	return out, nil
}

const priceItem = `{"product":{"sku":"S1","attributes":{"instanceType":"t3.small","operatingSystem":"Linux"}},
"terms":{"OnDemand":{"S1.T":{"priceDimensions":{"S1.T.R":{"unit":"Hrs","pricePerUnit":{"USD":"0.0208"}}}}}}}`

const windowsItem = `{"product":{"sku":"S2","attributes":{"instanceType":"t3.small","operatingSystem":"Windows"}},
"terms":{"OnDemand":{"S2.T":{"priceDimensions":{"S2.T.R":{"unit":"Hrs","pricePerUnit":{"USD":"0.0392"}}}}}}}`

func TestFetch_BuildsLookupCatalog(t *testing.T) {
	client := &mockPricingClient{pages: [][]string{{priceItem, "garbage"}, {windowsItem}}}

	products, err := Fetch(context.Background(), client, "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)
	assert.Len(t, products, 2)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, products))

	c, err := Parse(&buf)
	require.NoError(t, err)

	e, err := c.PriceFor("t3.small", "windows")
	require.NoError(t, err)
	assert.InDelta(t, 0.0392, e.HourlyUSD, 1e-9)
}

const windowsBYOLItem = `{"product":{"sku":"S3","attributes":{"instanceType":"t3.small","operatingSystem":"Windows","licenseModel":"Bring your own license"}},
"terms":{"OnDemand":{"S3.T":{"priceDimensions":{"S3.T.R":{"unit":"Hrs","pricePerUnit":{"USD":"0.0208"}}}}}}}`

const windowsIncludedItem = `{"product":{"sku":"S4","attributes":{"instanceType":"t3.small","operatingSystem":"Windows","licenseModel":"License included"}},
"terms":{"OnDemand":{"S4.T":{"priceDimensions":{"S4.T.R":{"unit":"Hrs","pricePerUnit":{"USD":"0.0392"}}}}}}}`

func TestFetch_SkipsBringYourOwnLicense(t *testing.T) {
	tests := []struct {
		name  string
		pages [][]string
	}{
		{"byol first", [][]string{{windowsBYOLItem, windowsIncludedItem}}},
		{"byol last", [][]string{{windowsIncludedItem}, {windowsBYOLItem}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			products, err := Fetch(context.Background(), &mockPricingClient{pages: tt.pages}, "us-east-1")
			require.NoError(t, err)
			require.Len(t, products, 1)

			c, err := New(products)
			require.NoError(t, err)

			e, err := c.PriceFor("t3.small", "windows")
			require.NoError(t, err)
			assert.InDelta(t, 0.0392, e.HourlyUSD, 1e-9)
		})
	}
}

func TestFetch_UnsupportedRegion(t *testing.T) {
	_, err := Fetch(context.Background(), &mockPricingClient{}, "mars-1")
	require.Error(t, err)
}

func TestFetch_APIError(t *testing.T) {
	_, err := Fetch(context.Background(), &mockPricingClient{err: errors.New("throttled")}, "us-east-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestNew(t *testing.T) {
	c, err := New(map[string]any{
		"t3.nano.Linux": map[string]any{"terms": map[string]any{"pricePerUnit": map[string]any{"USD": "0.005"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	e, err := c.PriceFor("t3.nano", "")
	require.NoError(t, err)
	assert.InDelta(t, 0.005, e.HourlyUSD, 1e-9)
}
