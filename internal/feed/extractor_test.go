package feed

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rughaus/feedsync/internal/models"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<Products>
  <Product>
    <Active>true</Active>
    <ExternalId>P100</ExternalId>
    <Name>Anatolia Rug</Name>
    <ShortHtml><![CDATA[<p>short</p>]]></ShortHtml>
    <LongHtml><![CDATA[<p>long</p>]]></LongHtml>
    <Brand>Rughaus</Brand>
    <Category>Rugs</Category>
    <CategoryTree>Home &gt; Rugs</CategoryTree>
    <Url>https://example.com/p100</Url>
    <Image>https://cdn.example.com/1.jpg</Image>
    <Image>https://cdn.example.com/2.jpg</Image>
    <Variant>
      <Active>true</Active>
      <VariationId>V1</VariationId>
      <Sku>SKU-1</Sku>
      <StockStatus>available</StockStatus>
      <Price>100</Price>
      <DiscountedPrice>80</DiscountedPrice>
      <CurrencyCode>USD</CurrencyCode>
      <Size>80x150 cm</Size>
      <Option Name="Ebat">60x120</Option>
    </Variant>
    <TechnicalDetail>
      <Key>Material</Key>
      <Value>Wool</Value>
    </TechnicalDetail>
    <TechnicalDetail>
      <Key>Pile Height</Key>
      <Value>12 mm</Value>
    </TechnicalDetail>
  </Product>
  <Product>
    <Active>evet</Active>
    <ExternalId>P200</ExternalId>
    <Name>Kilim</Name>
    <Variant Size="not a size">
      <Active>1</Active>
      <VariationId>V2</VariationId>
      <Price>50</Price>
      <Option Name="Size">Özel Ölçü</Option>
      <Option Name="Color">Red</Option>
    </Variant>
  </Product>
</Products>`

func collect(t *testing.T, xml string) ([]*models.RawProduct, *Extractor, error) {
	t.Helper()
	var out []*models.RawProduct
	ex := &Extractor{}
	err := ex.Run(context.Background(), strings.NewReader(xml), func(p *models.RawProduct) error {
		out = append(out, p)
		return nil
	})
	return out, ex, err
}

func TestExtractorEmitsProductsInDocumentOrder(t *testing.T) {
	products, ex, err := collect(t, sampleFeed)
	require.NoError(t, err)
	require.Len(t, products, 2)

	assert.Equal(t, 2, ex.ProductsSeen)
	assert.Equal(t, 2, ex.VariantsSeen)

	p := products[0]
	assert.Equal(t, "P100", p.ExternalID)
	assert.True(t, p.Active)
	assert.Equal(t, "Anatolia Rug", p.Name)
	assert.Equal(t, "<p>short</p>", p.ShortHTML)
	assert.Equal(t, "<p>long</p>", p.LongHTML)
	assert.Equal(t, "Rughaus", p.Brand)
	assert.Equal(t, "Home > Rugs", p.CategoryTree)
	assert.Equal(t, []string{"https://cdn.example.com/1.jpg", "https://cdn.example.com/2.jpg"}, p.Images)

	require.Len(t, p.Variants, 1)
	v := p.Variants[0]
	assert.True(t, v.Active)
	assert.Equal(t, "V1", v.VariationID)
	assert.Equal(t, "SKU-1", v.SKU)
	assert.Equal(t, "available", v.StockStatus)
	assert.Equal(t, "100", v.Price)
	assert.Equal(t, "80", v.DiscountedPrice)
	assert.Equal(t, "USD", v.CurrencyCode)

	require.Len(t, p.Details, 2)
	assert.Equal(t, models.TechnicalDetail{Key: "Material", Value: "Wool"}, p.Details[0])
	assert.Equal(t, models.TechnicalDetail{Key: "Pile Height", Value: "12 mm"}, p.Details[1])

	assert.Equal(t, "P200", products[1].ExternalID)
	assert.True(t, products[1].Active)
}

func TestExtractorSizePriority(t *testing.T) {
	products, _, err := collect(t, sampleFeed)
	require.NoError(t, err)

	// The dedicated Size tag wins over the later Ebat option.
	assert.Equal(t, "80x150 cm", products[0].Variants[0].Size)

	// A variant Size attribute that does not look like a size is skipped, so
	// the sentinel-bearing option fills the slot; the color option never does.
	assert.Equal(t, "Özel Ölçü", products[1].Variants[0].Size)
}

func TestExtractorMalformedStream(t *testing.T) {
	broken := `<Products><Product><ExternalId>P1</ExternalId></Product><Product><Name>oops</Products>`
	products, _, err := collect(t, broken)

	require.Error(t, err)
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Greater(t, pe.Offset, int64(0))

	// The complete product before the damage was still emitted.
	require.Len(t, products, 1)
	assert.Equal(t, "P1", products[0].ExternalID)
}

func TestExtractorTextSurvivesNestedChildren(t *testing.T) {
	// Mixed content: the Name frame holds text while child elements push the
	// stack past its initial capacity. The accumulated text must come back
	// intact after the children close.
	doc := `<Products>
  <Product>
    <ExternalId>P1</ExternalId>
    <Name>Anatolia<Wrap><Inner><Core>discarded</Core></Inner></Wrap>Rug</Name>
  </Product>
</Products>`

	products, _, err := collect(t, doc)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "AnatoliaRug", products[0].Name)
}

func TestExtractorEmitErrorStopsRun(t *testing.T) {
	sentinel := errors.New("stop")
	n := 0
	ex := &Extractor{}
	err := ex.Run(context.Background(), strings.NewReader(sampleFeed), func(*models.RawProduct) error {
		n++
		return sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, n)
}

func TestExtractorContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ex := &Extractor{}
	err := ex.Run(ctx, strings.NewReader(sampleFeed), func(*models.RawProduct) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
