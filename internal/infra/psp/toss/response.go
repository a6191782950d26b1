package toss

import (
	"fmt"
	"time"

	"github.com/coachpo/paygate/internal/domain/payment"
)

// confirmationResponse holds the subset of the PSP payment object the service records.
// The full body is kept verbatim in PSPRawData.
type confirmationResponse struct {
	PaymentKey  string `json:"paymentKey"`
	Type        string `json:"type"`
	OrderID     string `json:"orderId"`
	OrderName   string `json:"orderName"`
	Currency    string `json:"currency"`
	Method      string `json:"method"`
	TotalAmount int64  `json:"totalAmount"`
	Status      string `json:"status"`
	RequestedAt string `json:"requestedAt"`
	ApprovedAt  string `json:"approvedAt"`
}

type failureResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (r confirmationResponse) extraDetails(raw []byte) (payment.ExtraDetails, error) {
	paymentType, err := payment.ParseType(r.Type)
	if err != nil {
		return payment.ExtraDetails{}, err
	}
	method, err := payment.ParseMethod(r.Method)
	if err != nil {
		return payment.ExtraDetails{}, err
	}
	status, err := payment.ParsePSPConfirmationStatus(r.Status)
	if err != nil {
		return payment.ExtraDetails{}, err
	}
	approvedAt, err := time.Parse(time.RFC3339, r.ApprovedAt)
	if err != nil {
		return payment.ExtraDetails{}, fmt.Errorf("parse approvedAt %q: %w", r.ApprovedAt, err)
	}
	return payment.ExtraDetails{
		Type:                  paymentType,
		Method:                method,
		ApprovedAt:            approvedAt,
		OrderName:             r.OrderName,
		PSPConfirmationStatus: status,
		TotalAmount:           r.TotalAmount,
		PSPRawData:            string(raw),
	}, nil
}
