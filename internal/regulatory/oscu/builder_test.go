package oscu

import (
	"testing"
	"time"

	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(itemID string, qty, price, tax float64, taxTy string) domain.ComplianceLine {
	return domain.ComplianceLine{
		ItemID:                     itemID,
		Description:                "Item " + itemID,
		Quantity:                   qty,
		UnitPrice:                  price,
		TaxCategory:                domain.TaxCategoryVATStandard,
		TaxAmount:                  tax,
		ClassificationCodeSnapshot: domain.StringPtr("14111400"),
		TaxTyCdSnapshot:            domain.StringPtr(taxTy),
	}
}

func sale(lines ...domain.ComplianceLine) *domain.ComplianceDocument {
	doc := &domain.ComplianceDocument{
		MerchantID:       "merchant-1",
		BranchID:         "00",
		DocumentType:     domain.DocumentTypeSale,
		DocumentNumber:   "INV-0042",
		ComplianceStatus: domain.StatusReadyForSubmission,
		Lines:            lines,
	}
	for _, l := range lines {
		doc.SubtotalAmount += l.Quantity * l.UnitPrice
		doc.TotalTax += l.TaxAmount
	}
	doc.TotalAmount = doc.SubtotalAmount + doc.TotalTax
	return doc
}

var now = time.Date(2026, 2, 20, 9, 30, 15, 0, time.UTC)

func TestBuildSalesRequest_BucketsByTaxType(t *testing.T) {
	doc := sale(
		line("item-1", 2, 50, 16, "B"),
		line("item-2", 1, 50, 8, "b"),
		line("item-3", 1, 10, 0, "D"),
	)

	req := BuildSalesRequest(doc, BuildOptions{Tin: "P051234567X", CmcKey: "secret", Now: now})

	assert.Equal(t, 150.0, req.TaxblAmtB)
	assert.Equal(t, 24.0, req.TaxAmtB)
	assert.Equal(t, 10.0, req.TaxblAmtD)
	assert.Equal(t, 0.0, req.TaxAmtD)
	assert.Equal(t, 0.0, req.TaxblAmtA)
	assert.Equal(t, 0.0, req.TaxblAmtE)
	assert.Equal(t, 160.0, req.TotTaxblAmt)
	assert.Equal(t, 24.0, req.TotTaxAmt)
	assert.Equal(t, 184.0, req.TotAmt)
	assert.Equal(t, 16.0, req.TaxRtB)
	assert.Equal(t, 8.0, req.TaxRtE)
	assert.Equal(t, 3, req.TotItemCnt)

	require.Len(t, req.ItemList, 3)
	assert.Equal(t, "B", req.ItemList[1].TaxTyCd)
	assert.Equal(t, 1, req.ItemList[0].ItemSeq)
	assert.Equal(t, 116.0, req.ItemList[0].TotAmt)
}

func TestBuildSalesRequest_SaleDefaults(t *testing.T) {
	l := line("item-1", 1, 100, 16, "")
	l.Description = ""
	doc := sale(l)

	req := BuildSalesRequest(doc, BuildOptions{Tin: "P051234567X", Now: now})

	assert.Equal(t, "P051234567X", req.Tin)
	assert.Equal(t, "00", req.BhfID)
	assert.Equal(t, "INV-0042", req.TrdInvcNo)
	assert.Equal(t, int64(42), req.InvcNo)
	assert.Equal(t, int64(0), req.OrgInvcNo)
	assert.Equal(t, ReceiptTypeSale, req.RcptTyCd)
	assert.Equal(t, DefaultPaymentTypeCode, req.PmtTyCd)
	assert.Equal(t, DefaultInvoiceStatusCode, req.SalesSttsCd)
	assert.Equal(t, "20260220", req.SalesDt)
	assert.Equal(t, "20260220093015", req.CfmDt)
	assert.Equal(t, req.CfmDt, req.StockRlsDt)
	assert.Equal(t, req.CfmDt, req.Receipt.RcptPbctDt)
	assert.Equal(t, "N", req.Receipt.PrchrAcptcYn)
	assert.Nil(t, req.CustTin)

	item := req.ItemList[0]
	assert.Equal(t, DefaultPackagingUnitCode, item.PkgUnitCd)
	assert.Equal(t, DefaultUnitCode, item.QtyUnitCd)
	assert.Equal(t, DefaultTaxTyCd, item.TaxTyCd)
	assert.Equal(t, DefaultProductTypeCode, item.ItemTyCd)
	assert.Equal(t, "item-1", item.ItemNm)
	assert.Equal(t, 100.0, req.TaxblAmtD)
}

func TestBuildSalesRequest_CreditNote(t *testing.T) {
	doc := sale(line("item-1", 1, 100, 16, "B"))
	doc.DocumentType = domain.DocumentTypeCreditNote
	doc.DocumentNumber = "CN-7"
	doc.OriginalDocumentNumber = domain.StringPtr("INV-123")
	doc.SaleDate = domain.StringPtr("2026-01-05")
	doc.CustomerPin = domain.StringPtr("P051234567X")

	req := BuildSalesRequest(doc, BuildOptions{Now: now})

	assert.Equal(t, ReceiptTypeRefund, req.RcptTyCd)
	assert.Equal(t, int64(123), req.OrgInvcNo)
	assert.Equal(t, int64(7), req.InvcNo)
	assert.Equal(t, "20260105", req.SalesDt)
	assert.Equal(t, "20260105000000", req.CfmDt)
	require.NotNil(t, req.CustTin)
	assert.Equal(t, "P051234567X", *req.CustTin)
	assert.Equal(t, req.CustTin, req.Receipt.CustTin)
}

func TestBuildSalesRequest_RespectsOverrides(t *testing.T) {
	doc := sale(line("item-1", 1, 100, 16, "B"))
	doc.DocumentNumber = "no digits"
	doc.ReceiptTypeCode = domain.StringPtr("C")
	doc.PaymentTypeCode = domain.StringPtr("02")
	doc.InvoiceStatusCode = domain.StringPtr("05")

	req := BuildSalesRequest(doc, BuildOptions{BranchID: "01", Now: now})

	assert.Equal(t, "C", req.RcptTyCd)
	assert.Equal(t, "02", req.PmtTyCd)
	assert.Equal(t, "05", req.SalesSttsCd)
	assert.Equal(t, int64(1), req.InvcNo)
	assert.Equal(t, "01", req.BhfID)
}

func TestBuildSalesRequest_Pure(t *testing.T) {
	doc := sale(line("item-1", 3, 33.333, 16, "B"))
	before := doc.Clone()

	first := BuildSalesRequest(doc, BuildOptions{Now: now})
	second := BuildSalesRequest(doc, BuildOptions{Now: now})

	assert.Equal(t, first, second)
	assert.Equal(t, before, doc)
}

func TestRound2(t *testing.T) {
	cases := map[float64]float64{
		1.005:   1.01,
		2.675:   2.68,
		1.004:   1.0,
		99.999:  100,
		0:       0,
		-1.005:  -1,
		-0.125:  -0.12,
		-2.675:  -2.67,
		-0.126:  -0.13,
		33.3333: 33.33,
	}
	for in, want := range cases {
		assert.Equal(t, want, Round2(in), "round2(%v)", in)
	}
}

func TestTotals_UnknownTaxTypeFallsIntoD(t *testing.T) {
	totals := Totals([]SalesItem{
		{TaxTyCd: "Z", TaxblAmt: 10, TaxAmt: 1},
		{TaxTyCd: "e", TaxblAmt: 10.005, TaxAmt: 0.8},
	})

	assert.Equal(t, 10.0, totals.Buckets["D"].TaxableAmount)
	assert.Equal(t, 10.01, totals.Buckets["E"].TaxableAmount)
	assert.Equal(t, 8.0, totals.Buckets["E"].Rate)
	assert.Equal(t, 20.01, totals.TotalTaxableAmount)
	assert.Equal(t, 1.8, totals.TotalTaxAmount)
}

func TestRedacted_HidesCmcKey(t *testing.T) {
	req := BuildSalesRequest(sale(line("item-1", 1, 1, 0, "A")), BuildOptions{CmcKey: "secret", Now: now})

	redacted := req.Redacted()

	assert.Equal(t, "secret", req.CmcKey)
	assert.NotEqual(t, "secret", redacted.CmcKey)
	assert.Equal(t, req.ItemList, redacted.ItemList)
}
