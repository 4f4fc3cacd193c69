package oscu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
	"go.uber.org/zap"
)

const (
	DefaultSandboxBaseURL    = "https://etims-api-sbx.kra.go.ke/etims-api"
	DefaultProductionBaseURL = "https://etims-api.kra.go.ke/etims-api"
	DefaultTimeout           = 30 * time.Second

	salesSavePath = "/saveTrnsSalesOsdc"
)

var ErrInvalidRequest = errors.New("oscu_invalid_request")

// RegulatorAdapter submits one sales request. Transport failures are reported
// through SubmissionResult; a returned error means the request could not be
// attempted at all and is handled as transient by callers.
type RegulatorAdapter interface {
	SubmitInvoice(ctx context.Context, req TrnsSalesSaveRequest, conn domain.ConnectionContext) (domain.SubmissionResult, error)
}

type HTTPConfig struct {
	SandboxBaseURL    string
	ProductionBaseURL string
	Timeout           time.Duration
}

type HTTPAdapter struct {
	log    *zap.Logger
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTPAdapter(log *zap.Logger, cfg HTTPConfig, client *http.Client) *HTTPAdapter {
	if strings.TrimSpace(cfg.SandboxBaseURL) == "" {
		cfg.SandboxBaseURL = DefaultSandboxBaseURL
	}
	if strings.TrimSpace(cfg.ProductionBaseURL) == "" {
		cfg.ProductionBaseURL = DefaultProductionBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPAdapter{log: log.Named("oscu.http"), cfg: cfg, client: client}
}

func (a *HTTPAdapter) SubmitInvoice(ctx context.Context, req TrnsSalesSaveRequest, conn domain.ConnectionContext) (domain.SubmissionResult, error) {
	if strings.TrimSpace(req.Tin) == "" {
		req.Tin = conn.KraPin
	}
	if strings.TrimSpace(req.BhfID) == "" {
		req.BhfID = conn.BranchID
	}
	if req.CmcKey == "" {
		req.CmcKey = conn.CmcKey
	}

	body, err := json.Marshal(req)
	if err != nil {
		return domain.SubmissionResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	url := joinURL(a.baseURL(conn.Environment), salesSavePath)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.SubmissionResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("tin", req.Tin)
	httpReq.Header.Set("bhfId", req.BhfID)
	httpReq.Header.Set("cmcKey", req.CmcKey)

	start := time.Now()
	resp, err := a.client.Do(httpReq)
	if err != nil {
		a.log.Warn("oscu request failed",
			zap.String("trader_invoice_no", req.TrdInvcNo),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return domain.RetryableFailure(err.Error(), nil), nil
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.RetryableFailure("reading oscu response: "+err.Error(), nil), nil
	}

	raw := decodeRaw(text)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if raw == nil {
			raw = map[string]any{"body": string(text)}
		}
		raw["httpStatus"] = resp.StatusCode
		msg := fmt.Sprintf("HTTP %d calling OSCU", resp.StatusCode)
		a.log.Warn("oscu returned non-2xx",
			zap.String("trader_invoice_no", req.TrdInvcNo),
			zap.Int("status", resp.StatusCode),
		)
		if IsRetryableStatus(resp.StatusCode) {
			return domain.RetryableFailure(msg, raw), nil
		}
		return domain.SubmissionResult{Error: msg, RawResponse: raw}, nil
	}
	if raw == nil {
		return domain.SubmissionResult{
			Error:       "OSCU response is not a JSON object",
			RawResponse: map[string]any{"body": string(text)},
		}, nil
	}

	resultCd := stringify(raw["resultCd"])
	resultMsg := stringify(raw["resultMsg"])
	if IsSuccess(resultCd) {
		return domain.SubmissionResult{
			Success:       true,
			ReceiptNumber: ReceiptNumberFrom(raw),
			RawResponse:   raw,
		}, nil
	}

	msg := strings.TrimSpace(fmt.Sprintf("OSCU %s %s", resultCd, resultMsg))
	if IsRetryableCode(resultCd) {
		return domain.RetryableFailure(msg, raw), nil
	}
	return domain.SubmissionResult{Error: msg, RawResponse: raw}, nil
}

func (a *HTTPAdapter) baseURL(env domain.ConnectionEnvironment) string {
	if env == domain.EnvironmentProduction {
		return a.cfg.ProductionBaseURL
	}
	return a.cfg.SandboxBaseURL
}

// ReceiptNumberFrom extracts data.curRcptNo from a raw response. Some gateway
// builds emit the key with a trailing space.
func ReceiptNumberFrom(raw map[string]any) string {
	data, ok := raw["data"].(map[string]any)
	if !ok {
		return ""
	}
	if v := stringify(data["curRcptNo"]); v != "" {
		return v
	}
	return stringify(data["curRcptNo "])
}

func decodeRaw(text []byte) map[string]any {
	if len(bytes.TrimSpace(text)) == 0 {
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(text, &raw); err != nil {
		return nil
	}
	return raw
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

// StubAdapter accepts every request. It is meant for local development.
type StubAdapter struct {
	Now func() time.Time
}

func (s *StubAdapter) SubmitInvoice(_ context.Context, req TrnsSalesSaveRequest, _ domain.ConnectionContext) (domain.SubmissionResult, error) {
	now := time.Now
	if s != nil && s.Now != nil {
		now = s.Now
	}
	at := now().UTC()
	receipt := fmt.Sprintf("ETR-%d-%s", at.UnixMilli(), req.TrdInvcNo)
	return domain.SubmissionResult{
		Success:       true,
		ReceiptNumber: receipt,
		RawResponse: map[string]any{
			"resultCd":  ResultSuccess,
			"resultMsg": "It is succeeded",
			"resultDt":  at.Format(dateTimeLayout),
			"data": map[string]any{
				"curRcptNo":   receipt,
				"sdcDateTime": at.Format(dateTimeLayout),
			},
		},
	}, nil
}
