package feed

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rughaus/feedsync/internal/models"
	"github.com/rughaus/feedsync/internal/normalize"
)

// ParseError is the single fatal error the extractor produces: the byte
// stream is structurally malformed and extraction cannot continue.
type ParseError struct {
	Offset int64
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("feed parse failed at byte %d: %v", e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// EmitFunc receives each complete product in document order. Returning an
// error stops extraction immediately.
type EmitFunc func(*models.RawProduct) error

// parserState is the explicit state machine threaded through every tag
// handler: a stack of open element names, a parallel stack of accumulated
// text, and the records currently under construction. No handler captures
// mutable state outside this struct.
type parserState struct {
	path []string
	text []*strings.Builder

	product *models.RawProduct
	variant *models.RawVariant
	detail  *models.TechnicalDetail

	// optionName holds the name attribute of the <Option> currently open,
	// one of the alternate size-bearing shapes in the schema.
	optionName string
}

// push opens a frame. Builders are heap-allocated: growing the stack must
// never copy a builder that already holds text.
func (s *parserState) push(name string) {
	s.path = append(s.path, name)
	s.text = append(s.text, &strings.Builder{})
}

// pop removes the top frame and returns its accumulated text.
func (s *parserState) pop() string {
	n := len(s.path) - 1
	if n < 0 {
		return ""
	}
	text := s.text[n].String()
	s.path = s.path[:n]
	s.text = s.text[:n]
	return text
}

// Extractor walks the feed's nested element stream incrementally and emits
// complete RawProduct values without buffering the whole feed.
type Extractor struct {
	// ProductsSeen and VariantsSeen count opened Product/Variant elements,
	// including records that later fail validation downstream.
	ProductsSeen int
	VariantsSeen int
}

// Run consumes the byte stream until EOF, a malformed token, context
// cancellation or an emit error.
func (e *Extractor) Run(ctx context.Context, r io.Reader, emit EmitFunc) error {
	dec := xml.NewDecoder(r)
	st := &parserState{}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &ParseError{Offset: dec.InputOffset(), Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			e.open(st, t)
		case xml.CharData:
			if n := len(st.text); n > 0 {
				st.text[n-1].Write(t)
			}
		case xml.EndElement:
			if err := e.close(st, t.Name.Local, emit); err != nil {
				return err
			}
		}
	}
}

func (e *Extractor) open(st *parserState, t xml.StartElement) {
	st.push(t.Name.Local)

	switch t.Name.Local {
	case "Product":
		st.product = &models.RawProduct{}
		e.ProductsSeen++
	case "Variant":
		if st.product == nil {
			return
		}
		st.variant = &models.RawVariant{}
		e.VariantsSeen++
		// Size may appear as a named attribute on the variant itself.
		for _, a := range t.Attr {
			if strings.EqualFold(a.Name.Local, "Size") {
				setSizeCandidate(st.variant, a.Value)
			}
		}
	case "TechnicalDetail":
		if st.product != nil {
			st.detail = &models.TechnicalDetail{}
		}
	case "Option":
		st.optionName = ""
		for _, a := range t.Attr {
			if strings.EqualFold(a.Name.Local, "Name") {
				st.optionName = a.Value
			}
		}
	}
}

func (e *Extractor) close(st *parserState, name string, emit EmitFunc) error {
	text := strings.TrimSpace(st.pop())

	switch name {
	case "Product":
		p := st.product
		st.product = nil
		st.variant = nil
		st.detail = nil
		if p == nil {
			return nil
		}
		return emit(p)

	case "Variant":
		if st.product != nil && st.variant != nil {
			st.product.Variants = append(st.product.Variants, *st.variant)
		}
		st.variant = nil
		return nil

	case "TechnicalDetail":
		if st.product != nil && st.detail != nil {
			st.product.Details = append(st.product.Details, *st.detail)
		}
		st.detail = nil
		return nil

	case "Key":
		if st.detail != nil {
			st.detail.Key = text
		}
		return nil
	case "Value":
		if st.detail != nil {
			st.detail.Value = text
		}
		return nil
	}

	if st.variant != nil {
		e.closeVariantField(st, name, text)
		return nil
	}
	if st.product != nil && st.detail == nil {
		closeProductField(st.product, name, text)
	}
	return nil
}

func (e *Extractor) closeVariantField(st *parserState, name, text string) {
	v := st.variant
	switch name {
	case "Active":
		v.Active = parseFlag(text)
	case "VariationId":
		v.VariationID = text
	case "Sku":
		v.SKU = text
	case "Barcode":
		v.Barcode = text
	case "StockStatus":
		v.StockStatus = text
	case "Price":
		v.Price = text
	case "DiscountedPrice":
		v.DiscountedPrice = text
	case "CurrencyCode":
		v.CurrencyCode = text
	case "Size":
		// Dedicated size tag: one of several size-bearing shapes. First
		// recognized candidate wins; later ones are ignored.
		setSizeCandidate(v, text)
	case "Option":
		// Generically-named option: only values that actually look like a
		// size are considered.
		if strings.EqualFold(st.optionName, "Size") || strings.EqualFold(st.optionName, "Ebat") || st.optionName == "" {
			setSizeCandidate(v, text)
		}
		st.optionName = ""
	}
}

func closeProductField(p *models.RawProduct, name, text string) {
	switch name {
	case "Active":
		p.Active = parseFlag(text)
	case "ExternalId":
		p.ExternalID = text
	case "Name":
		p.Name = text
	case "ShortHtml":
		p.ShortHTML = text
	case "LongHtml":
		p.LongHTML = text
	case "Brand":
		p.Brand = text
	case "Category":
		p.Category = text
	case "CategoryTree":
		p.CategoryTree = text
	case "Url":
		p.URL = text
	case "Image":
		if text != "" {
			p.Images = append(p.Images, text)
		}
	}
}

// setSizeCandidate applies the size priority rule: the first value that
// passes the size-looking-value predicate is kept.
func setSizeCandidate(v *models.RawVariant, value string) {
	value = strings.TrimSpace(value)
	if v.Size != "" || value == "" {
		return
	}
	if normalize.LooksLikeSize(value) {
		v.Size = value
	}
}

// parseFlag interprets the feed's boolean vocabulary.
func parseFlag(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "true", "1", "yes", "active", "evet":
		return true
	}
	return false
}
