package models

const (
	CategoryNewConnection   = "New Connection"
	CategoryBillPayment     = "Bill Payment"
	CategoryTechnicalIssues = "Technical Issues"
	CategoryDocumentation   = "Documentation"
)

// Categories lists the closed set of service categories in display order.
// Extending the set is a schema change, not a runtime operation.
var Categories = []string{
	CategoryNewConnection,
	CategoryBillPayment,
	CategoryTechnicalIssues,
	CategoryDocumentation,
}

var categoryCodes = map[string]string{
	CategoryNewConnection:   "NC",
	CategoryBillPayment:     "BP",
	CategoryTechnicalIssues: "TI",
	CategoryDocumentation:   "DC",
}

func ValidCategory(category string) bool {
	_, ok := categoryCodes[category]
	return ok
}

// CategoryCode returns the short prefix used in display token numbers
// (for example "BP-042").
func CategoryCode(category string) string {
	return categoryCodes[category]
}
