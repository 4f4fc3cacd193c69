package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
)

// ServiceClassificationPrefix is the customary prefix of service classification codes.
const ServiceClassificationPrefix = "SVC"

var goodsClassificationPattern = regexp.MustCompile(`^[A-Z0-9]{4,12}$`)

const (
	CodeItemNotFound  = "CLASSIFICATION_ITEM_NOT_FOUND"
	CodeGoodsInvalid  = "CLASSIFICATION_GOODS_INVALID"
	CodeServicePrefix = "CLASSIFICATION_SERVICE_PREFIX"
	CodeUnitRequired  = "CLASSIFICATION_UNIT_REQUIRED"
)

// Classification checks the regulator code snapshots of each line against
// the type of its resolved item.
func Classification(doc *domain.ComplianceDocument, items map[string]domain.ComplianceItem) (errs, warnings []domain.ValidationIssue) {
	for i, line := range doc.Lines {
		ref := fmt.Sprintf("lines[%d]", i)
		item, ok := items[line.ItemID]
		if !ok {
			errs = append(errs, domain.ValidationIssue{
				Code:    CodeItemNotFound,
				Message: fmt.Sprintf("item %s not found for line", line.ItemID),
				Field:   ref + ".itemId",
			})
			continue
		}

		classification := domain.StringValue(line.ClassificationCodeSnapshot)
		switch item.ItemType {
		case domain.ItemTypeGoods:
			if !goodsClassificationPattern.MatchString(classification) {
				errs = append(errs, domain.ValidationIssue{
					Code:    CodeGoodsInvalid,
					Message: fmt.Sprintf("GOODS must have valid HS classification code (4-12 alphanumeric). got: %s", classification),
					Field:   ref + ".classificationCodeSnapshot",
				})
			}
		case domain.ItemTypeService:
			if !strings.HasPrefix(classification, ServiceClassificationPrefix) {
				warnings = append(warnings, domain.ValidationIssue{
					Code:    CodeServicePrefix,
					Message: "SERVICE items typically use classification starting with " + ServiceClassificationPrefix,
					Field:   ref + ".classificationCodeSnapshot",
				})
			}
		}

		if domain.IsBlank(line.UnitCodeSnapshot) {
			errs = append(errs, domain.ValidationIssue{
				Code:    CodeUnitRequired,
				Message: "unit code is required",
				Field:   ref + ".unitCodeSnapshot",
			})
		}
	}
	return errs, warnings
}
