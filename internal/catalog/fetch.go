package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	"github.com/aws/aws-sdk-go-v2/service/pricing/types"
	"github.com/rs/zerolog/log"
)

// PricingRegion is where the AWS Pricing API is served from.
const PricingRegion = "us-east-1"

const licenseBYOL = "Bring your own license"

// PricingAPI defines the Pricing operations used to build a catalog.
type PricingAPI interface {
	GetProducts(ctx context.Context, params *pricing.GetProductsInput, optFns ...func(*pricing.Options)) (*pricing.GetProductsOutput, error)
}

// regionLocations maps region codes to the location names the Pricing API filters on.
var regionLocations = map[string]string{
	"us-east-1":      "US East (N. Virginia)",
	"us-east-2":      "US East (Ohio)",
	"us-west-1":      "US West (N. California)",
	"us-west-2":      "US West (Oregon)",
	"ap-south-1":     "Asia Pacific (Mumbai)",
	"ap-northeast-1": "Asia Pacific (Tokyo)",
	"ap-northeast-2": "Asia Pacific (Seoul)",
	"ap-southeast-1": "Asia Pacific (Singapore)",
	"ap-southeast-2": "Asia Pacific (Sydney)",
	"ca-central-1":   "Canada (Central)",
	"eu-central-1":   "EU (Frankfurt)",
	"eu-west-1":      "EU (Ireland)",
	"eu-west-2":      "EU (London)",
	"eu-west-3":      "EU (Paris)",
	"eu-north-1":     "EU (Stockholm)",
	"sa-east-1":      "South America (Sao Paulo)",
}

// Location returns the Pricing API location name for region.
func Location(region string) (string, error) {
	loc, ok := regionLocations[region]
	if !ok {
		return "", fmt.Errorf("unsupported pricing region %q", region)
	}
	return loc, nil
}

type priceListItem struct {
	Product struct {
		SKU        string            `json:"sku"`
		Attributes map[string]string `json:"attributes"`
	} `json:"product"`
	Terms struct {
		OnDemand map[string]any `json:"OnDemand"`
	} `json:"terms"`
}

// Fetch pulls on-demand shared-tenancy EC2 prices for region and returns
// product documents keyed the same way PriceFor looks them up.
func Fetch(ctx context.Context, client PricingAPI, region string) (map[string]any, error) {
	location, err := Location(region)
	if err != nil {
		return nil, err
	}

	filters := []types.Filter{
		termMatch("location", location),
		termMatch("tenancy", "Shared"),
		termMatch("preInstalledSw", "NA"),
		termMatch("capacitystatus", "Used"),
	}

	products := make(map[string]any)
	var nextToken *string
	for {
		out, err := client.GetProducts(ctx, &pricing.GetProductsInput{
			ServiceCode: aws.String("AmazonEC2"),
			Filters:     filters,
			NextToken:   nextToken,
			MaxResults:  aws.Int32(100),
		})
		if err != nil {
			return nil, fmt.Errorf("get products: %w", err)
		}

		for _, raw := range out.PriceList {
			key, doc, ok := productDocument(raw)
			if !ok {
				continue
			}
			if _, dup := products[key]; dup {
				log.Debug().Str("key", key).Msg("duplicate price list entry, keeping first")
				continue
			}
			products[key] = doc
		}

		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}

	log.Info().Str("region", region).Int("products", len(products)).Msg("catalog fetched")
	return products, nil
}

func productDocument(raw string) (string, map[string]any, bool) {
	var item priceListItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		log.Warn().Err(err).Msg("skip unparseable price list entry")
		return "", nil, false
	}

	// BYOL entries share the key of the license-included SKU but omit the
	// OS license from the price.
	if item.Product.Attributes["licenseModel"] == licenseBYOL {
		log.Debug().Str("sku", item.Product.SKU).Msg("skip bring-your-own-license entry")
		return "", nil, false
	}

	instanceType := item.Product.Attributes["instanceType"]
	platform := item.Product.Attributes["operatingSystem"]
	if instanceType == "" || platform == "" || len(item.Terms.OnDemand) == 0 {
		return "", nil, false
	}

	return Key(instanceType, platform), map[string]any{
		"sku":        item.Product.SKU,
		"attributes": item.Product.Attributes,
		"terms":      item.Terms.OnDemand,
	}, true
}

// Write encodes products as a catalog file to w.
func Write(w io.Writer, products map[string]any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(products); err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	return nil
}

// WriteFile writes products to path.
func WriteFile(path string, products map[string]any) error {
	f, err := os.Create(path) // #nosec G304 -- path is user input
	if err != nil {
		return fmt.Errorf("create catalog file: %w", err)
	}
	if err := Write(f, products); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func termMatch(field, value string) types.Filter {
	return types.Filter{
		Type:  types.FilterTypeTermMatch,
		Field: aws.String(field),
		Value: aws.String(value),
	}
}
