// Package tax holds the static jurisdiction tax table. Pure data: rates and
// composition rules only, no behavior beyond lookup.
package tax

import "github.com/shopspring/decimal"

const (
	ComponentHST = "hst"
	ComponentGST = "gst"
	ComponentPST = "pst"
)

// Component is one named tax line within a jurisdiction. CompoundOnFederal
// marks a provincial component computed on (taxable amount + federal amount)
// instead of the bare taxable amount.
type Component struct {
	Name              string
	Rate              decimal.Decimal
	CompoundOnFederal bool
}

// Composition is the full tax makeup of one jurisdiction.
type Composition struct {
	Code       string
	Label      string
	Components []Component
}

// DefaultJurisdiction is used when a cart has no jurisdiction set.
const DefaultJurisdiction = "ON"

var table = map[string]Composition{
	"ON": {
		Code:  "ON",
		Label: "HST 13%",
		Components: []Component{
			{Name: ComponentHST, Rate: decimal.NewFromFloat(0.13)},
		},
	},
	"NB": {
		Code:  "NB",
		Label: "HST 15%",
		Components: []Component{
			{Name: ComponentHST, Rate: decimal.NewFromFloat(0.15)},
		},
	},
	"QC": {
		Code:  "QC",
		Label: "GST 5% + QST 9.975%",
		Components: []Component{
			{Name: ComponentGST, Rate: decimal.NewFromFloat(0.05)},
			// QST is computed on (taxable + GST), not on the bare taxable amount.
			{Name: ComponentPST, Rate: decimal.NewFromFloat(0.09975), CompoundOnFederal: true},
		},
	},
	"BC": {
		Code:  "BC",
		Label: "GST 5% + PST 7%",
		Components: []Component{
			{Name: ComponentGST, Rate: decimal.NewFromFloat(0.05)},
			{Name: ComponentPST, Rate: decimal.NewFromFloat(0.07)},
		},
	},
	"MB": {
		Code:  "MB",
		Label: "GST 5% + PST 7%",
		Components: []Component{
			{Name: ComponentGST, Rate: decimal.NewFromFloat(0.05)},
			{Name: ComponentPST, Rate: decimal.NewFromFloat(0.07)},
		},
	},
	"SK": {
		Code:  "SK",
		Label: "GST 5% + PST 6%",
		Components: []Component{
			{Name: ComponentGST, Rate: decimal.NewFromFloat(0.05)},
			{Name: ComponentPST, Rate: decimal.NewFromFloat(0.06)},
		},
	},
	"AB": {
		Code:  "AB",
		Label: "GST 5%",
		Components: []Component{
			{Name: ComponentGST, Rate: decimal.NewFromFloat(0.05)},
		},
	},
}

// Lookup returns the composition for a jurisdiction code. Unknown codes fall
// back to the default jurisdiction so totals never fail on bad input.
func Lookup(code string) Composition {
	if comp, ok := table[code]; ok {
		return comp
	}
	return table[DefaultJurisdiction]
}

// Known reports whether the code exists in the table.
func Known(code string) bool {
	_, ok := table[code]
	return ok
}

// Codes returns every jurisdiction code in the table.
func Codes() []string {
	codes := make([]string, 0, len(table))
	for code := range table {
		codes = append(codes, code)
	}
	return codes
}
