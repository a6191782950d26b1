// Package telemetry provides semantic conventions for paygate observability.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by paygate instruments.
const (
	AttrEnvironment = attribute.Key("environment")
	AttrStatus      = attribute.Key("status")
	AttrFailureCode = attribute.Key("failure.code")
	AttrResult      = attribute.Key("result")
	AttrOperation   = attribute.Key("operation")
	AttrPSPCode     = attribute.Key("psp.code")
	AttrMessageType = attribute.Key("message.type")
	AttrPartition   = attribute.Key("partition")
)

// Result values used across instruments.
const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultRetry     = "retry"
	ResultSent      = "sent"
	ResultDropped   = "dropped"
	ResultSkipped   = "skipped"
	ResultCompleted = "completed"
	ResultPanic     = "panic"
)

// StatusAttributes returns common attributes for outcome metrics.
func StatusAttributes(environment, status, failureCode string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrStatus.String(status),
	}
	if failureCode != "" {
		attrs = append(attrs, AttrFailureCode.String(failureCode))
	}
	return attrs
}

// OperationResultAttributes returns attributes for operation metrics with result classification.
func OperationResultAttributes(environment, operation, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrOperation.String(operation),
		AttrResult.String(result),
	}
}
