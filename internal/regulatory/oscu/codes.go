package oscu

import "strings"

const (
	ResultSuccess  = "000"
	ResultNoResult = "001"
)

type CodeSystem string

const (
	CodeSystemServer CodeSystem = "Server"
	CodeSystemClient CodeSystem = "Client"
)

type ResponseCode struct {
	Code        string
	System      CodeSystem
	Description string
}

var responseCodes = map[string]ResponseCode{}

func init() {
	for _, c := range []ResponseCode{
		{"000", CodeSystemServer, "It is succeeded"},
		{"001", CodeSystemServer, "There is no search result"},
		{"891", CodeSystemClient, "An error occurred while Request URL is created."},
		{"892", CodeSystemClient, "An error occurred while Request Header data is created."},
		{"893", CodeSystemClient, "An error occurred while Request Body data is created."},
		{"894", CodeSystemClient, "An error regarding server communication occurred."},
		{"895", CodeSystemClient, "An error regarding unallowed Request Method occurred."},
		{"896", CodeSystemClient, "An error regarding Request Status occurred."},
		{"899", CodeSystemClient, "An error regarding Client occurred."},
		{"900", CodeSystemServer, "There is no Header information"},
		{"901", CodeSystemServer, "It is not valid device"},
		{"902", CodeSystemServer, "This device is installed"},
		{"903", CodeSystemServer, "Only OSCU device can be verified."},
		{"910", CodeSystemServer, "Request parameter error"},
		{"911", CodeSystemServer, "There is no request full text"},
		{"912", CodeSystemServer, "There is a request Method error."},
		{"921", CodeSystemServer, "Sales or sales invoice data which is declared cannot be received."},
		{"922", CodeSystemServer, "Sales invoice data can be received after receiving the sales data."},
		{"990", CodeSystemServer, "The maxium number of views are exceeded"},
		{"991", CodeSystemServer, "There is an error during registration"},
		{"992", CodeSystemServer, "There is an error during modification"},
		{"993", CodeSystemServer, "There is an error during deletion"},
		{"994", CodeSystemServer, "There is an overlapped Data"},
		{"995", CodeSystemServer, "There is no downloaded file"},
		{"999", CodeSystemServer, "There is an unknown error. Please ask it administrator"},
	} {
		responseCodes[c.Code] = c
	}
}

// LookupCode returns the catalogue entry for a result code.
func LookupCode(code string) (ResponseCode, bool) {
	c, ok := responseCodes[strings.TrimSpace(code)]
	return c, ok
}

func IsSuccess(code string) bool {
	return strings.TrimSpace(code) == ResultSuccess
}

// IsRetryableCode treats communication errors (894) and every 9xx server
// code as transient. Codes such as 921 keep failing; the attempt cap turns
// them into FAILED.
func IsRetryableCode(code string) bool {
	code = strings.TrimSpace(code)
	if code == "894" {
		return true
	}
	return len(code) == 3 && code[0] == '9'
}

// IsRetryableStatus classifies HTTP status codes.
func IsRetryableStatus(status int) bool {
	return status == 408 || status == 429 || (status >= 500 && status <= 599)
}
