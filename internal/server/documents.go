package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
	"github.com/smallbiznis/etimsbridge/pkg/db/pagination"
	"go.uber.org/zap"
)

type createLineRequest struct {
	ItemID             string  `json:"itemId"`
	Description        string  `json:"description"`
	Quantity           float64 `json:"quantity"`
	UnitPrice          float64 `json:"unitPrice"`
	TaxCategory        string  `json:"taxCategory"`
	TaxAmount          float64 `json:"taxAmount"`
	ClassificationCode *string `json:"classificationCode"`
	UnitCode           *string `json:"unitCode"`
	PackagingUnitCode  *string `json:"packagingUnitCode"`
	TaxTyCd            *string `json:"taxTyCd"`
	ProductTypeCode    *string `json:"productTypeCode"`
}

type createDocumentRequest struct {
	MerchantID             string              `json:"merchantId"`
	BranchID               string              `json:"branchId"`
	SourceSystem           string              `json:"sourceSystem"`
	SourceDocumentID       string              `json:"sourceDocumentId"`
	DocumentType           string              `json:"documentType"`
	DocumentNumber         string              `json:"documentNumber"`
	OriginalDocumentNumber *string             `json:"originalDocumentNumber"`
	OriginalSaleID         *string             `json:"originalSaleId"`
	SaleDate               *string             `json:"saleDate"`
	ReceiptTypeCode        *string             `json:"receiptTypeCode"`
	PaymentTypeCode        *string             `json:"paymentTypeCode"`
	InvoiceStatusCode      *string             `json:"invoiceStatusCode"`
	Currency               string              `json:"currency"`
	ExchangeRate           float64             `json:"exchangeRate"`
	SubtotalAmount         float64             `json:"subtotalAmount"`
	TotalTax               float64             `json:"totalTax"`
	TotalAmount            float64             `json:"totalAmount"`
	CustomerPin            *string             `json:"customerPin"`
	Lines                  []createLineRequest `json:"lines"`
}

type createCreditNoteRequest struct {
	MerchantID          string  `json:"merchantId"`
	BranchID            string  `json:"branchId"`
	SaleID              string  `json:"saleId"`
	TraderInvoiceNumber string  `json:"traderInvoiceNumber"`
	ReturnDate          string  `json:"returnDate"`
	PaymentTypeCode     *string `json:"paymentTypeCode"`
	InvoiceStatusCode   *string `json:"invoiceStatusCode"`
}

type abandonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) CreateDocument(c *gin.Context) {
	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	process, err := parseOptionalBool(c.Query("process"))
	if err != nil {
		AbortWithError(c, newValidationError("process", "invalid_process", "invalid process"))
		return
	}

	var originalSaleID *snowflake.ID
	if req.OriginalSaleID != nil {
		originalSaleID, err = parseOptionalSnowflakeID(*req.OriginalSaleID)
		if err != nil {
			AbortWithError(c, newValidationError("originalSaleId", "invalid_original_sale_id", "invalid originalSaleId"))
			return
		}
	}

	lines := make([]domain.CreateLineRequest, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, domain.CreateLineRequest{
			ItemID:             strings.TrimSpace(line.ItemID),
			Description:        line.Description,
			Quantity:           line.Quantity,
			UnitPrice:          line.UnitPrice,
			TaxCategory:        domain.TaxCategory(strings.TrimSpace(line.TaxCategory)),
			TaxAmount:          line.TaxAmount,
			ClassificationCode: line.ClassificationCode,
			UnitCode:           line.UnitCode,
			PackagingUnitCode:  line.PackagingUnitCode,
			TaxTyCd:            line.TaxTyCd,
			ProductTypeCode:    line.ProductTypeCode,
		})
	}

	resp, err := s.documents.Create(c.Request.Context(), domain.CreateDocumentRequest{
		MerchantID:             strings.TrimSpace(req.MerchantID),
		BranchID:               strings.TrimSpace(req.BranchID),
		SourceSystem:           domain.SourceSystem(strings.TrimSpace(req.SourceSystem)),
		SourceDocumentID:       strings.TrimSpace(req.SourceDocumentID),
		DocumentType:           domain.DocumentType(strings.TrimSpace(req.DocumentType)),
		DocumentNumber:         strings.TrimSpace(req.DocumentNumber),
		OriginalDocumentNumber: req.OriginalDocumentNumber,
		OriginalSaleID:         originalSaleID,
		SaleDate:               req.SaleDate,
		ReceiptTypeCode:        req.ReceiptTypeCode,
		PaymentTypeCode:        req.PaymentTypeCode,
		InvoiceStatusCode:      req.InvoiceStatusCode,
		Currency:               strings.TrimSpace(req.Currency),
		ExchangeRate:           req.ExchangeRate,
		SubtotalAmount:         req.SubtotalAmount,
		TotalTax:               req.TotalTax,
		TotalAmount:            req.TotalAmount,
		CustomerPin:            req.CustomerPin,
		Lines:                  lines,
	}, domain.CreateOptions{EnqueueProcessing: process != nil && *process})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if resp.Created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"data": toDocumentResponse(resp.Document), "created": resp.Created})
}

func (s *Server) ListDocuments(c *gin.Context) {
	var query struct {
		pagination.Pagination
		MerchantID string `form:"merchant_id"`
		StartDate  string `form:"start_date"`
		EndDate    string `form:"end_date"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	before, err := query.BeforeID()
	if err != nil {
		AbortWithError(c, newValidationError("before", "invalid_before", "invalid before"))
		return
	}
	after, err := query.AfterID()
	if err != nil {
		AbortWithError(c, newValidationError("after", "invalid_after", "invalid after"))
		return
	}
	startDate, err := parseOptionalDate(query.StartDate)
	if err != nil {
		AbortWithError(c, newValidationError("start_date", "invalid_start_date", "invalid start_date"))
		return
	}
	endDate, err := parseOptionalDate(query.EndDate)
	if err != nil {
		AbortWithError(c, newValidationError("end_date", "invalid_end_date", "invalid end_date"))
		return
	}

	resp, err := s.documents.List(c.Request.Context(), domain.ListDocumentsRequest{
		MerchantID: strings.TrimSpace(query.MerchantID),
		Before:     before,
		After:      after,
		StartDate:  startDate,
		EndDate:    endDate,
		PageSize:   query.Size(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toListResponse(resp)})
}

func (s *Server) GetDocumentByID(c *gin.Context) {
	id, err := parsePathID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	doc, err := s.documents.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toDocumentResponse(doc)})
}

func (s *Server) ListDocumentEvents(c *gin.Context) {
	id, err := parsePathID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	events, err := s.documents.Events(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toEventResponses(events)})
}

func (s *Server) GetSaleReport(c *gin.Context) {
	id, err := parsePathID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	report, err := s.documents.SaleReport(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) ValidateDocument(c *gin.Context) {
	id, err := parsePathID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	res, err := s.documents.Validate(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       toDocumentResponse(res.Document),
		"validation": res.Validation,
	})
}

func (s *Server) PrepareDocument(c *gin.Context) {
	s.transition(c, s.documents.Prepare)
}

func (s *Server) SubmitDocument(c *gin.Context) {
	id, err := parsePathID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	res, err := s.documents.Submit(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       toDocumentResponse(res.Document),
		"submission": res.Result,
	})
}

func (s *Server) CancelDocument(c *gin.Context) {
	s.transition(c, s.documents.Cancel)
}

func (s *Server) RetryDocument(c *gin.Context) {
	s.transition(c, s.documents.Retry)
}

func (s *Server) AbandonDocument(c *gin.Context) {
	var req abandonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	s.transition(c, func(ctx context.Context, id snowflake.ID) (*domain.ComplianceDocument, error) {
		return s.documents.Abandon(ctx, id, strings.TrimSpace(req.Reason))
	})
}

func (s *Server) CreateCreditNote(c *gin.Context) {
	var req createCreditNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	submit, err := parseOptionalBool(c.Query("submit"))
	if err != nil {
		AbortWithError(c, newValidationError("submit", "invalid_submit", "invalid submit"))
		return
	}
	saleID, err := parseOptionalSnowflakeID(req.SaleID)
	if err != nil || saleID == nil {
		AbortWithError(c, newValidationError("saleId", "invalid_sale_id", "invalid saleId"))
		return
	}

	ctx := c.Request.Context()
	resp, err := s.documents.CreateCreditNote(ctx, domain.CreateCreditNoteRequest{
		MerchantID:          strings.TrimSpace(req.MerchantID),
		BranchID:            strings.TrimSpace(req.BranchID),
		SaleID:              *saleID,
		TraderInvoiceNumber: strings.TrimSpace(req.TraderInvoiceNumber),
		ReturnDate:          strings.TrimSpace(req.ReturnDate),
		PaymentTypeCode:     req.PaymentTypeCode,
		InvoiceStatusCode:   req.InvoiceStatusCode,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	doc := resp.Document
	body := gin.H{"created": resp.Created}
	if submit != nil && *submit && doc.ComplianceStatus == domain.StatusDraft {
		out, err := s.runPipeline(ctx, doc.ID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		doc = out.document
		if out.validation != nil {
			body["validation"] = out.validation
		}
		if out.submission != nil {
			body["submission"] = out.submission
		}
	}
	body["data"] = toDocumentResponse(doc)

	status := http.StatusOK
	if resp.Created {
		status = http.StatusCreated
	}
	c.JSON(status, body)
}

func (s *Server) transition(c *gin.Context, op func(context.Context, snowflake.ID) (*domain.ComplianceDocument, error)) {
	id, err := parsePathID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	doc, err := op(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toDocumentResponse(doc)})
}

type pipelineResult struct {
	document   *domain.ComplianceDocument
	validation *domain.ValidationResult
	submission *domain.SubmissionResult
}

// runPipeline drives a DRAFT document through validate, prepare and submit in
// the request. A failed validation stops the chain with the document in DRAFT.
func (s *Server) runPipeline(ctx context.Context, id snowflake.ID) (pipelineResult, error) {
	validated, err := s.documents.Validate(ctx, id)
	if err != nil {
		return pipelineResult{}, err
	}
	out := pipelineResult{document: validated.Document, validation: &validated.Validation}
	if !validated.Transitioned {
		s.log.Info("pipeline stopped at validation",
			zap.String("document_id", id.String()),
			zap.Int("error_count", len(validated.Validation.Errors)),
		)
		return out, nil
	}

	if _, err := s.documents.Prepare(ctx, id); err != nil {
		return out, err
	}
	submitted, err := s.documents.Submit(ctx, id)
	if err != nil {
		return out, err
	}
	out.document = submitted.Document
	out.submission = &submitted.Result
	return out, nil
}
