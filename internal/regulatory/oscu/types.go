// Package oscu maps compliance documents onto the KRA OSCU/eTIMS wire format
// and talks to the regulator gateway.
package oscu

// TrnsSalesSaveRequest is the body of POST /saveTrnsSalesOsdc.
type TrnsSalesSaveRequest struct {
	Tin    string `json:"tin"`
	BhfID  string `json:"bhfId"`
	CmcKey string `json:"cmcKey"`

	TrdInvcNo   string  `json:"trdInvcNo"`
	InvcNo      int64   `json:"invcNo"`
	OrgInvcNo   int64   `json:"orgInvcNo"`
	CustTin     *string `json:"custTin"`
	CustNm      *string `json:"custNm"`
	RcptTyCd    string  `json:"rcptTyCd"`
	PmtTyCd     string  `json:"pmtTyCd"`
	SalesSttsCd string  `json:"salesSttsCd"`
	CfmDt       string  `json:"cfmDt"`
	SalesDt     string  `json:"salesDt"`
	StockRlsDt  string  `json:"stockRlsDt"`
	TotItemCnt  int     `json:"totItemCnt"`

	TaxblAmtA float64 `json:"taxblAmtA"`
	TaxblAmtB float64 `json:"taxblAmtB"`
	TaxblAmtC float64 `json:"taxblAmtC"`
	TaxblAmtD float64 `json:"taxblAmtD"`
	TaxblAmtE float64 `json:"taxblAmtE"`
	TaxRtA    float64 `json:"taxRtA"`
	TaxRtB    float64 `json:"taxRtB"`
	TaxRtC    float64 `json:"taxRtC"`
	TaxRtD    float64 `json:"taxRtD"`
	TaxRtE    float64 `json:"taxRtE"`
	TaxAmtA   float64 `json:"taxAmtA"`
	TaxAmtB   float64 `json:"taxAmtB"`
	TaxAmtC   float64 `json:"taxAmtC"`
	TaxAmtD   float64 `json:"taxAmtD"`
	TaxAmtE   float64 `json:"taxAmtE"`

	TotTaxblAmt float64 `json:"totTaxblAmt"`
	TotTaxAmt   float64 `json:"totTaxAmt"`
	TotAmt      float64 `json:"totAmt"`

	Remark *string `json:"remark"`
	RegrID string  `json:"regrId"`
	RegrNm string  `json:"regrNm"`
	ModrID string  `json:"modrId"`
	ModrNm string  `json:"modrNm"`

	Receipt  SalesReceipt `json:"receipt"`
	ItemList []SalesItem  `json:"itemList"`
}

type SalesReceipt struct {
	CustTin      *string `json:"custTin"`
	CustMblNo    *string `json:"custMblNo"`
	RcptPbctDt   string  `json:"rcptPbctDt"`
	TrdeNm       *string `json:"trdeNm"`
	Adrs         *string `json:"adrs"`
	TopMsg       *string `json:"topMsg"`
	BtmMsg       *string `json:"btmMsg"`
	PrchrAcptcYn string  `json:"prchrAcptcYn"`
}

type SalesItem struct {
	ItemSeq   int     `json:"itemSeq"`
	ItemClsCd string  `json:"itemClsCd"`
	ItemCd    string  `json:"itemCd"`
	ItemNm    string  `json:"itemNm"`
	Bcd       *string `json:"bcd"`
	PkgUnitCd string  `json:"pkgUnitCd"`
	Pkg       float64 `json:"pkg"`
	QtyUnitCd string  `json:"qtyUnitCd"`
	Qty       float64 `json:"qty"`
	Prc       float64 `json:"prc"`
	SplyAmt   float64 `json:"splyAmt"`
	DcRt      float64 `json:"dcRt"`
	DcAmt     float64 `json:"dcAmt"`
	TaxTyCd   string  `json:"taxTyCd"`
	TaxblAmt  float64 `json:"taxblAmt"`
	TaxAmt    float64 `json:"taxAmt"`
	TotAmt    float64 `json:"totAmt"`

	// ItemTyCd is not sent; it is kept for reporting.
	ItemTyCd string `json:"-"`
}

// Response is the common OSCU envelope. Data is null on many endpoints.
type Response[T any] struct {
	ResultCd  string `json:"resultCd"`
	ResultMsg string `json:"resultMsg"`
	ResultDt  string `json:"resultDt"`
	Data      *T     `json:"data"`
}

// TrnsSalesSaveData is the data block of a successful sales save.
type TrnsSalesSaveData struct {
	CurRcptNo   string `json:"curRcptNo"`
	TotRcptNo   string `json:"totRcptNo"`
	IntrlData   string `json:"intrlData"`
	RcptSign    string `json:"rcptSign"`
	SdcDateTime string `json:"sdcDateTime"`
}

// Redacted returns a copy safe for audit storage.
func (r TrnsSalesSaveRequest) Redacted() TrnsSalesSaveRequest {
	cp := r
	if cp.CmcKey != "" {
		cp.CmcKey = redactedValue
	}
	cp.ItemList = append([]SalesItem(nil), r.ItemList...)
	return cp
}

const redactedValue = "[REDACTED]"
