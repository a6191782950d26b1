package toss

import "github.com/coachpo/paygate/internal/domain/payment"

// errorCode describes how a PSP error code maps onto a confirmation outcome.
type errorCode struct {
	status    payment.Status
	retryable bool
}

var (
	codeSuccess          = errorCode{status: payment.StatusSuccess}
	codeFailure          = errorCode{status: payment.StatusFailure}
	codeUnknown          = errorCode{status: payment.StatusUnknown}
	codeUnknownRetryable = errorCode{status: payment.StatusUnknown, retryable: true}
)

var errorCodes = map[string]errorCode{
	"ALREADY_PROCESSED_PAYMENT": codeSuccess,

	"PROVIDER_ERROR":                            codeUnknownRetryable,
	"FAILED_PAYMENT_INTERNAL_SYSTEM_PROCESSING": codeUnknownRetryable,
	"FAILED_INTERNAL_SYSTEM_PROCESSING":         codeUnknownRetryable,
	"UNKNOWN_PAYMENT_ERROR":                     codeUnknownRetryable,
	"CARD_PROCESSING_ERROR":                     codeUnknownRetryable,

	"UNKNOWN": codeUnknown,

	"EXCEED_MAX_CARD_INSTALLMENT_PLAN":                codeFailure,
	"INVALID_REQUEST":                                 codeFailure,
	"NOT_ALLOWED_POINT_USE":                           codeFailure,
	"INVALID_API_KEY":                                 codeFailure,
	"INVALID_REJECT_CARD":                             codeFailure,
	"BELOW_MINIMUM_AMOUNT":                            codeFailure,
	"INVALID_CARD_EXPIRATION":                         codeFailure,
	"INVALID_STOPPED_CARD":                            codeFailure,
	"EXCEED_MAX_DAILY_PAYMENT_COUNT":                  codeFailure,
	"NOT_SUPPORTED_INSTALLMENT_PLAN_CARD_OR_MERCHANT": codeFailure,
	"INVALID_CARD_INSTALLMENT_PLAN":                   codeFailure,
	"NOT_SUPPORTED_MONTHLY_INSTALLMENT_PLAN":          codeFailure,
	"EXCEED_MAX_PAYMENT_AMOUNT":                       codeFailure,
	"NOT_FOUND_TERMINAL_ID":                           codeFailure,
	"INVALID_AUTHORIZE_AUTH":                          codeFailure,
	"INVALID_CARD_LOST_OR_STOLEN":                     codeFailure,
	"RESTRICTED_TRANSFER_ACCOUNT":                     codeFailure,
	"INVALID_CARD_NUMBER":                             codeFailure,
	"INVALID_UNREGISTERED_SUBMALL":                    codeFailure,
	"NOT_REGISTERED_BUSINESS":                         codeFailure,
	"EXCEED_MAX_ONE_DAY_WITHDRAW_AMOUNT":              codeFailure,
	"EXCEED_MAX_ONE_TIME_WITHDRAW_AMOUNT":             codeFailure,
	"EXCEED_MAX_AMOUNT":                               codeFailure,
	"INVALID_ACCOUNT_INFO_RE_REGISTER":                codeFailure,
	"NOT_AVAILABLE_PAYMENT":                           codeFailure,
	"UNAPPROVED_ORDER_ID":                             codeFailure,
	"UNAUTHORIZED_KEY":                                codeFailure,
	"REJECT_ACCOUNT_PAYMENT":                          codeFailure,
	"REJECT_CARD_PAYMENT":                             codeFailure,
	"REJECT_CARD_COMPANY":                             codeFailure,
	"FORBIDDEN_REQUEST":                               codeFailure,
	"REJECT_TOSSPAY_INVALID_ACCOUNT":                  codeFailure,
	"EXCEED_MAX_AUTH_COUNT":                           codeFailure,
	"EXCEED_MAX_ONE_DAY_AMOUNT":                       codeFailure,
	"NOT_AVAILABLE_BANK":                              codeFailure,
	"INVALID_PASSWORD":                                codeFailure,
	"INCORRECT_BASIC_AUTH_FORMAT":                     codeFailure,
	"FDS_ERROR":                                       codeFailure,
	"NOT_FOUND_PAYMENT":                               codeFailure,
	"NOT_FOUND_PAYMENT_SESSION":                       codeFailure,
}

// lookupCode returns the mapping for code. Unlisted codes are UNKNOWN and not retried.
func lookupCode(code string) errorCode {
	if c, ok := errorCodes[code]; ok {
		return c
	}
	return codeUnknown
}
