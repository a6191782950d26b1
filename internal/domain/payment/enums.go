package payment

import (
	"fmt"
	"strings"
)

// Type is the PSP payment type.
type Type string

const (
	TypeNormal   Type = "NORMAL"
	TypeBilling  Type = "BILLING"
	TypeBrandpay Type = "BRANDPAY"
)

// ParseType converts a PSP value into a Type.
func ParseType(value string) (Type, error) {
	switch t := Type(strings.ToUpper(strings.TrimSpace(value))); t {
	case TypeNormal, TypeBilling, TypeBrandpay:
		return t, nil
	default:
		return "", fmt.Errorf("unsupported payment type %q", value)
	}
}

// Method is the payment instrument used for a confirmed payment.
type Method string

const (
	MethodCard                   Method = "CARD"
	MethodEasyPay                Method = "EASY_PAY"
	MethodVirtualAccount         Method = "VIRTUAL_ACCOUNT"
	MethodMobilePhone            Method = "MOBILE_PHONE"
	MethodTransfer               Method = "TRANSFER"
	MethodCultureGiftCertificate Method = "CULTURE_GIFT_CERTIFICATE"
	MethodBookGiftCertificate    Method = "BOOK_GIFT_CERTIFICATE"
	MethodGameGiftCertificate    Method = "GAME_GIFT_CERTIFICATE"
)

// The PSP reports methods as localized labels.
var methodLabels = map[string]Method{
	"카드":      MethodCard,
	"간편결제":    MethodEasyPay,
	"가상계좌":    MethodVirtualAccount,
	"휴대폰":     MethodMobilePhone,
	"계좌이체":    MethodTransfer,
	"문화상품권":   MethodCultureGiftCertificate,
	"도서문화상품권": MethodBookGiftCertificate,
	"게임문화상품권": MethodGameGiftCertificate,
}

// ParseMethod accepts either the localized PSP label or the enum name.
func ParseMethod(value string) (Method, error) {
	trimmed := strings.TrimSpace(value)
	if m, ok := methodLabels[trimmed]; ok {
		return m, nil
	}
	m := Method(strings.ToUpper(trimmed))
	for _, known := range methodLabels {
		if known == m {
			return m, nil
		}
	}
	return "", fmt.Errorf("unsupported payment method %q", value)
}

// PSPConfirmationStatus is the payment state reported by the PSP.
type PSPConfirmationStatus string

const (
	PSPStatusReady             PSPConfirmationStatus = "READY"
	PSPStatusInProgress        PSPConfirmationStatus = "IN_PROGRESS"
	PSPStatusWaitingForDeposit PSPConfirmationStatus = "WAITING_FOR_DEPOSIT"
	PSPStatusDone              PSPConfirmationStatus = "DONE"
	PSPStatusCanceled          PSPConfirmationStatus = "CANCELED"
	PSPStatusPartialCanceled   PSPConfirmationStatus = "PARTIAL_CANCELED"
	PSPStatusAborted           PSPConfirmationStatus = "ABORTED"
	PSPStatusExpired           PSPConfirmationStatus = "EXPIRED"
)

// ParsePSPConfirmationStatus converts a PSP value into a PSPConfirmationStatus.
func ParsePSPConfirmationStatus(value string) (PSPConfirmationStatus, error) {
	switch s := PSPConfirmationStatus(strings.ToUpper(strings.TrimSpace(value))); s {
	case PSPStatusReady, PSPStatusInProgress, PSPStatusWaitingForDeposit, PSPStatusDone,
		PSPStatusCanceled, PSPStatusPartialCanceled, PSPStatusAborted, PSPStatusExpired:
		return s, nil
	default:
		return "", fmt.Errorf("unsupported psp confirmation status %q", value)
	}
}
