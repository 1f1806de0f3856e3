package extractor

import (
	"github.com/mfenderov/doclens/internal/retry"
	"github.com/mfenderov/doclens/pkg/models"
)

var leaseFields = []field{
	{models.FieldParty1, kindText, "lessor or landlord name"},
	{models.FieldParty2, kindText, "lessee or tenant name"},
	{models.FieldAdditionalParties, kindList, "any other named parties, e.g. guarantors"},
	{FieldPremises, kindClause, "address or description of the leased premises or asset"},
	{FieldTerm, kindClause, "lease term as written, e.g. \"11 months\""},
	{models.FieldAmount, kindAmount, "rent amount per payment period"},
	{models.FieldCurrency, kindCurrency, "currency of the rent"},
	{models.FieldFrequency, kindFrequency, "rent payment frequency"},
	{FieldSecurityDeposit, kindAmount, "security deposit amount"},
	{FieldEscalationClause, kindClause, "rent escalation clause text"},
	{FieldTerminationClause, kindClause, "termination clause text"},
	{models.FieldStartDate, kindDate, "lease start or commencement date"},
	{models.FieldDueDate, kindDate, "lease end or expiry date"},
	{FieldLeaseID, kindText, "lease or agreement reference number"},
	{models.FieldAccountType, kindText, "account head if the document states one"},
}

var ndaFields = []field{
	{models.FieldParty1, kindText, "disclosing party name"},
	{models.FieldParty2, kindText, "receiving party name"},
	{models.FieldAdditionalParties, kindList, "any other named parties"},
	{models.FieldStartDate, kindDate, "effective date"},
	{models.FieldDueDate, kindDate, "expiry date if stated"},
	{FieldConfidentiality, kindClause, "how long confidentiality obligations last"},
	{FieldGoverningLaw, kindClause, "governing law or jurisdiction"},
	{FieldPermittedUse, kindClause, "permitted use of confidential information"},
	{FieldTerminationClause, kindClause, "termination clause text"},
	{FieldNDAID, kindText, "agreement reference number"},
	{models.FieldAccountType, kindText, "account head if the document states one"},
}

var contractFields = []field{
	{models.FieldParty1, kindText, "first party (service provider)"},
	{models.FieldParty2, kindText, "second party (client)"},
	{models.FieldAdditionalParties, kindList, "any other named parties"},
	{models.FieldStartDate, kindDate, "start or effective date"},
	{models.FieldDueDate, kindDate, "end date or payment due date"},
	{models.FieldAmount, kindAmount, "contract value or fee per payment period"},
	{models.FieldCurrency, kindCurrency, "currency of the amount"},
	{models.FieldFrequency, kindFrequency, "payment frequency"},
	{FieldScopeOfWork, kindClause, "scope of work or services"},
	{FieldTerminationClause, kindClause, "termination clause text"},
	{FieldContractID, kindText, "contract reference number"},
	{models.FieldAccountType, kindText, "account head if the document states one"},
}

var invoiceFields = []field{
	{models.FieldParty1, kindText, "vendor or seller name"},
	{models.FieldParty2, kindText, "customer or bill-to name"},
	{models.FieldInvoiceID, kindText, "invoice ID if labelled as an ID"},
	{models.FieldInvoiceNumber, kindText, "invoice number"},
	{models.FieldStartDate, kindDate, "invoice date"},
	{models.FieldDueDate, kindDate, "payment due date"},
	{FieldLineItems, kindList, "line items as a list of {description, quantity, amount}"},
	{FieldSubtotal, kindAmount, "subtotal before tax"},
	{FieldTaxAmount, kindAmount, "total tax amount"},
	{FieldCGST, kindAmount, "CGST amount"},
	{FieldSGST, kindAmount, "SGST amount"},
	{FieldIGST, kindAmount, "IGST amount"},
	{FieldVAT, kindAmount, "VAT amount"},
	{FieldTotal, kindAmount, "grand total"},
	{models.FieldAmount, kindAmount, "total amount payable"},
	{models.FieldCurrency, kindCurrency, "currency of the invoice"},
	{FieldBankName, kindText, "bank name for payment"},
	{FieldAccountNumber, kindText, "bank account number"},
	{FieldIFSCCode, kindText, "IFSC or sort code"},
	{models.FieldAccountType, kindText, "account head if the document states one"},
}

// Lease extracts lease agreements.
type Lease struct{ schemaExtractor }

// NewLease creates a lease extractor.
func NewLease(gen Generator, policy retry.Policy) *Lease {
	return &Lease{newSchemaExtractor(models.TypeLease, "lease agreement", leaseFields, gen, policy)}
}

// NDA extracts non-disclosure agreements.
type NDA struct{ schemaExtractor }

// NewNDA creates an NDA extractor.
func NewNDA(gen Generator, policy retry.Policy) *NDA {
	return &NDA{newSchemaExtractor(models.TypeNDA, "non-disclosure agreement", ndaFields, gen, policy)}
}

// Contract extracts general contracts. It also handles unclassified documents.
type Contract struct{ schemaExtractor }

// NewContract creates a contract extractor.
func NewContract(gen Generator, policy retry.Policy) *Contract {
	return &Contract{newSchemaExtractor(models.TypeContract, "contract", contractFields, gen, policy)}
}

// Invoice extracts invoices.
type Invoice struct{ schemaExtractor }

// NewInvoice creates an invoice extractor.
func NewInvoice(gen Generator, policy retry.Policy) *Invoice {
	return &Invoice{newSchemaExtractor(models.TypeInvoice, "invoice", invoiceFields, gen, policy)}
}
