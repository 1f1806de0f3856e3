package extractor

import (
	"regexp"
	"strings"

	"github.com/mfenderov/doclens/pkg/models"
)

type accountHead struct {
	name     string
	keywords []string
}

// accountHeads is a chart of expense heads with the phrases that suggest them.
var accountHeads = []accountHead{
	{"Rent & Lease Expense", []string{"rent", "lease", "rental", "premises", "office space"}},
	{"Utilities Expense", []string{"electricity", "water charges", "utility", "utilities", "energy", "sewage"}},
	{"Office Supplies & Consumables", []string{"office supplies", "stationery", "consumables"}},
	{"Repairs & Maintenance", []string{"repair", "repairs", "maintenance", "servicing", "upkeep"}},
	{"Insurance Expense", []string{"insurance", "insurance premium", "coverage"}},
	{"Telecommunications & Internet", []string{"telephone", "mobile", "internet", "broadband", "telecom", "wifi"}},
	{"Legal & Professional Fees", []string{"legal", "attorney", "lawyer", "advocate", "legal services"}},
	{"Consulting & Advisory Services", []string{"consulting", "advisory", "consultant"}},
	{"Accounting & Audit Fees", []string{"accounting", "audit", "bookkeeping", "tax filing"}},
	{"IT & Technical Services", []string{"it services", "technical support", "system integration", "network setup"}},
	{"Software Subscriptions & Licenses", []string{"software", "license", "subscription", "saas", "annual license"}},
	{"IT Equipment & Hardware", []string{"computer", "laptop", "server", "hardware", "workstation"}},
	{"Cloud & Hosting Services", []string{"cloud", "hosting", "aws", "azure", "cloud storage"}},
	{"Construction Expense", []string{"construction", "civil work", "fabrication", "installation"}},
	{"Raw Materials & Components", []string{"raw material", "raw materials", "components"}},
	{"Equipment Rental", []string{"equipment rental", "machinery rental", "tool rental"}},
	{"Labor & Contractor Charges", []string{"labor", "labour", "contractor", "manpower", "labor charges"}},
	{"Advertising & Marketing", []string{"advertising", "advertisement", "ad campaign", "billboard"}},
	{"Promotional Materials", []string{"promotional", "branding", "merchandise", "giveaway"}},
	{"Digital Marketing & SEO", []string{"digital marketing", "seo", "social media", "google ads"}},
	{"Training & Development", []string{"training", "workshop", "seminar", "certification"}},
	{"Recruitment & Hiring", []string{"recruitment", "hiring", "staffing", "placement"}},
	{"Employee Benefits & Welfare", []string{"employee benefits", "health insurance", "welfare"}},
	{"Payroll Processing Services", []string{"payroll", "salary processing"}},
	{"Travel & Accommodation", []string{"travel", "flight", "hotel", "accommodation", "airfare", "lodging"}},
	{"Vehicle Maintenance & Fuel", []string{"vehicle", "fuel", "petrol", "diesel"}},
	{"Logistics & Shipping", []string{"logistics", "shipping", "freight", "cargo"}},
	{"Courier & Delivery Services", []string{"courier", "parcel"}},
	{"Bank Fees & Charges", []string{"bank charges", "bank fees", "transaction charges"}},
	{"Printing & Stationery", []string{"printing", "photocopying", "binding", "lamination"}},
	{"Security Services", []string{"security guard", "surveillance", "cctv", "security services"}},
	{"Cleaning & Housekeeping", []string{"cleaning", "housekeeping", "janitorial", "sanitation"}},
}

var accountPatterns = compileAccountHeads(accountHeads)

func compileAccountHeads(heads []accountHead) [][]*regexp.Regexp {
	out := make([][]*regexp.Regexp, len(heads))
	for i, h := range heads {
		for _, kw := range h.keywords {
			out[i] = append(out[i], regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(kw)+`\b`))
		}
	}
	return out
}

// typeAccounts is the account used when no head matches.
var typeAccounts = map[models.DocumentType]string{
	models.TypeLease:    "Lease/Rental Expense",
	models.TypeNDA:      "Legal/Compliance Expense",
	models.TypeContract: "Service Contract Revenue",
	models.TypeInvoice:  "Accounts Payable",
}

// MatchAccountHead returns the head whose keywords occur most often in text,
// or "" when none do. Ties go to the earlier head.
func MatchAccountHead(text string) string {
	best, bestHits := "", 0
	for i, patterns := range accountPatterns {
		hits := 0
		for _, p := range patterns {
			if p.MatchString(text) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = accountHeads[i].name, hits
		}
	}
	return best
}

// AssignAccountType fills account_type when extraction left it empty.
// Invoices are matched against the chart of account heads using their line
// items, or the whole text when there are none; other types, and invoices
// that match nothing, get their type's default account.
func AssignAccountType(docType models.DocumentType, fields models.Fields, text string) {
	if fields.Has(models.FieldAccountType) {
		return
	}
	if docType == models.TypeInvoice {
		source := fields.Get(FieldLineItems)
		if strings.TrimSpace(source) == "" {
			source = text
		}
		if head := MatchAccountHead(source); head != "" {
			fields.Set(models.FieldAccountType, head, nil)
			return
		}
	}
	if account, ok := typeAccounts[docType]; ok {
		fields.Set(models.FieldAccountType, account, nil)
	}
}
