package oscu

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
)

const (
	DefaultPaymentTypeCode   = "01"
	DefaultInvoiceStatusCode = "02"
	DefaultPackagingUnitCode = "NT"
	DefaultUnitCode          = "U"
	DefaultTaxTyCd           = "D"
	DefaultProductTypeCode   = "2"

	ReceiptTypeSale   = "S"
	ReceiptTypeRefund = "R"

	registrarID = "etimsbridge"

	dateLayout     = "20060102"
	dateTimeLayout = "20060102150405"
	saleDateLayout = "2006-01-02"
)

// TaxTypes are the OSCU tax buckets in wire order.
var TaxTypes = []string{"A", "B", "C", "D", "E"}

// TaxRates maps each bucket to its percentage rate.
var TaxRates = map[string]float64{
	"A": 0,
	"B": 16,
	"C": 0,
	"D": 0,
	"E": 8,
}

var digitRun = regexp.MustCompile(`\d+`)

// BuildOptions carries the connection-derived request context.
type BuildOptions struct {
	Tin      string
	BranchID string
	CmcKey   string
	Now      time.Time
}

// BuildSalesRequest maps a prepared document onto a sales save request.
// It has no side effects.
func BuildSalesRequest(doc *domain.ComplianceDocument, opts BuildOptions) TrnsSalesSaveRequest {
	at := requestTime(doc.SaleDate, opts.Now)
	day := at.Format(dateLayout)
	stamp := at.Format(dateTimeLayout)

	items := BuildItems(doc.Lines)
	totals := Totals(items)

	branchID := strings.TrimSpace(opts.BranchID)
	if branchID == "" {
		branchID = doc.BranchID
	}

	var orgInvcNo int64
	if doc.IsCreditNote() {
		orgInvcNo = firstNumber(domain.StringValue(doc.OriginalDocumentNumber), 0)
	}

	custTin := domain.StringPtr(domain.StringValue(doc.CustomerPin))

	return TrnsSalesSaveRequest{
		Tin:         strings.TrimSpace(opts.Tin),
		BhfID:       branchID,
		CmcKey:      opts.CmcKey,
		TrdInvcNo:   doc.DocumentNumber,
		InvcNo:      firstNumber(doc.DocumentNumber, 1),
		OrgInvcNo:   orgInvcNo,
		CustTin:     custTin,
		RcptTyCd:    receiptType(doc),
		PmtTyCd:     codeOrDefault(doc.PaymentTypeCode, DefaultPaymentTypeCode),
		SalesSttsCd: codeOrDefault(doc.InvoiceStatusCode, DefaultInvoiceStatusCode),
		CfmDt:       stamp,
		SalesDt:     day,
		StockRlsDt:  stamp,
		TotItemCnt:  len(items),

		TaxblAmtA: totals.Buckets["A"].TaxableAmount,
		TaxblAmtB: totals.Buckets["B"].TaxableAmount,
		TaxblAmtC: totals.Buckets["C"].TaxableAmount,
		TaxblAmtD: totals.Buckets["D"].TaxableAmount,
		TaxblAmtE: totals.Buckets["E"].TaxableAmount,
		TaxRtA:    TaxRates["A"],
		TaxRtB:    TaxRates["B"],
		TaxRtC:    TaxRates["C"],
		TaxRtD:    TaxRates["D"],
		TaxRtE:    TaxRates["E"],
		TaxAmtA:   totals.Buckets["A"].TaxAmount,
		TaxAmtB:   totals.Buckets["B"].TaxAmount,
		TaxAmtC:   totals.Buckets["C"].TaxAmount,
		TaxAmtD:   totals.Buckets["D"].TaxAmount,
		TaxAmtE:   totals.Buckets["E"].TaxAmount,

		TotTaxblAmt: totals.TotalTaxableAmount,
		TotTaxAmt:   totals.TotalTaxAmount,
		TotAmt:      Round2(doc.TotalAmount),

		RegrID: registrarID,
		RegrNm: registrarID,
		ModrID: registrarID,
		ModrNm: registrarID,

		Receipt: SalesReceipt{
			CustTin:      custTin,
			RcptPbctDt:   stamp,
			PrchrAcptcYn: "N",
		},
		ItemList: items,
	}
}

// BuildItems maps document lines onto item list entries, filling regulator
// defaults for blank snapshots.
func BuildItems(lines []domain.ComplianceLine) []SalesItem {
	items := make([]SalesItem, 0, len(lines))
	for i, line := range lines {
		splyAmt := Round2(line.Quantity * line.UnitPrice)
		taxAmt := Round2(line.TaxAmount)
		name := line.Description
		if strings.TrimSpace(name) == "" {
			name = line.ItemID
		}
		items = append(items, SalesItem{
			ItemSeq:   i + 1,
			ItemClsCd: strings.TrimSpace(domain.StringValue(line.ClassificationCodeSnapshot)),
			ItemCd:    line.ItemID,
			ItemNm:    name,
			PkgUnitCd: codeOrDefault(line.PackagingUnitCodeSnapshot, DefaultPackagingUnitCode),
			QtyUnitCd: codeOrDefault(line.UnitCodeSnapshot, DefaultUnitCode),
			Qty:       line.Quantity,
			Prc:       line.UnitPrice,
			SplyAmt:   splyAmt,
			TaxTyCd:   NormalizeTaxType(domain.StringValue(line.TaxTyCdSnapshot)),
			TaxblAmt:  splyAmt,
			TaxAmt:    taxAmt,
			TotAmt:    Round2(splyAmt + taxAmt),
			ItemTyCd:  codeOrDefault(line.ProductTypeCodeSnapshot, DefaultProductTypeCode),
		})
	}
	return items
}

// BucketTotals holds the rounded per-bucket sums of a request.
type BucketTotals struct {
	Buckets            map[string]domain.TaxBucket
	TotalTaxableAmount float64
	TotalTaxAmount     float64
}

// Totals aggregates items per tax bucket. Each bucket is rounded before the
// grand totals are summed and rounded again.
func Totals(items []SalesItem) BucketTotals {
	taxable := make(map[string]decimal.Decimal, len(TaxTypes))
	tax := make(map[string]decimal.Decimal, len(TaxTypes))
	for _, item := range items {
		key := NormalizeTaxType(item.TaxTyCd)
		taxable[key] = taxable[key].Add(decimal.NewFromFloat(item.TaxblAmt))
		tax[key] = tax[key].Add(decimal.NewFromFloat(item.TaxAmt))
	}

	out := BucketTotals{Buckets: make(map[string]domain.TaxBucket, len(TaxTypes))}
	var totalTaxable, totalTax float64
	for _, key := range TaxTypes {
		bucket := domain.TaxBucket{
			Rate:          TaxRates[key],
			TaxableAmount: roundDecimal(taxable[key]),
			TaxAmount:     roundDecimal(tax[key]),
		}
		out.Buckets[key] = bucket
		totalTaxable += bucket.TaxableAmount
		totalTax += bucket.TaxAmount
	}
	out.TotalTaxableAmount = Round2(totalTaxable)
	out.TotalTaxAmount = Round2(totalTax)
	return out
}

// NormalizeTaxType upper-cases a tax type code; blank or unknown codes map to D.
func NormalizeTaxType(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if _, ok := TaxRates[code]; ok {
		return code
	}
	return DefaultTaxTyCd
}

// Round2 rounds to two decimal places, half-up.
func Round2(v float64) float64 {
	return roundDecimal(decimal.NewFromFloat(v))
}

var (
	hundred = decimal.NewFromInt(100)
	half    = decimal.New(5, -1)
)

// roundDecimal rounds halves toward positive infinity at two places, so
// -0.125 becomes -0.12.
func roundDecimal(d decimal.Decimal) float64 {
	return d.Mul(hundred).Add(half).Floor().Div(hundred).InexactFloat64()
}

func receiptType(doc *domain.ComplianceDocument) string {
	if code := domain.StringPtr(domain.StringValue(doc.ReceiptTypeCode)); code != nil {
		return *code
	}
	if doc.IsCreditNote() {
		return ReceiptTypeRefund
	}
	return ReceiptTypeSale
}

func requestTime(saleDate *string, now time.Time) time.Time {
	if d := domain.StringPtr(domain.StringValue(saleDate)); d != nil {
		if t, err := time.Parse(saleDateLayout, *d); err == nil {
			return t.UTC()
		}
	}
	if now.IsZero() {
		now = time.Now()
	}
	return now.UTC()
}

func firstNumber(s string, fallback int64) int64 {
	run := digitRun.FindString(s)
	if run == "" {
		return fallback
	}
	n, err := strconv.ParseInt(run, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func codeOrDefault(code *string, fallback string) string {
	if v := domain.StringPtr(domain.StringValue(code)); v != nil {
		return *v
	}
	return fallback
}
