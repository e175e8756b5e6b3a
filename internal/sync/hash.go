package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/rughaus/feedsync/internal/models"
)

// featureHeadDetails is how many leading technical details feed the feature
// head text; the remainder forms the care/technical list.
const featureHeadDetails = 3

// FeatureHead derives the short feature line shown at the top of a product
// page: name, brand and the leading technical detail values.
func FeatureHead(p *models.RawProduct) string {
	parts := make([]string, 0, 2+featureHeadDetails)
	if p.Name != "" {
		parts = append(parts, p.Name)
	}
	if p.Brand != "" {
		parts = append(parts, p.Brand)
	}
	for i, d := range p.Details {
		if i >= featureHeadDetails {
			break
		}
		if d.Value != "" {
			parts = append(parts, d.Value)
		}
	}
	return strings.Join(parts, " · ")
}

// CareText derives the care/technical list from the remaining details.
func CareText(p *models.RawProduct) string {
	if len(p.Details) <= featureHeadDetails {
		return ""
	}
	var b strings.Builder
	for _, d := range p.Details[featureHeadDetails:] {
		if d.Key == "" && d.Value == "" {
			continue
		}
		b.WriteString(d.Key)
		b.WriteString(": ")
		b.WriteString(d.Value)
		b.WriteString("\n")
	}
	return b.String()
}

// contentEnvelope is the canonical representation of everything that feeds
// localized content. Field order is fixed by the JSON encoder (sorted keys),
// so byte-identical inputs always produce the same hash.
type contentEnvelope struct {
	ShortHTML   string                   `json:"shortHtml"`
	LongHTML    string                   `json:"longHtml"`
	Details     []models.TechnicalDetail `json:"details"`
	FeatureHead string                   `json:"featureHead"`
	CareText    string                   `json:"careText"`
	Taxonomy    []string                 `json:"taxonomy"`
}

// ContentHash digests the fields that drive localized content. It changes if
// and only if one of those fields changes byte-for-byte; downstream
// translation is skipped whenever the hash is unchanged.
func ContentHash(p *models.RawProduct) string {
	env := contentEnvelope{
		ShortHTML:   p.ShortHTML,
		LongHTML:    p.LongHTML,
		Details:     p.Details,
		FeatureHead: FeatureHead(p),
		CareText:    CareText(p),
		Taxonomy:    []string{p.Category, p.CategoryTree},
	}
	b, err := json.Marshal(env)
	if err != nil {
		// Only unmarshalable types reach here, which the envelope has none of.
		panic(err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
