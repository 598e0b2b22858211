package utils

import (
	"context"

	"github.com/creditfield/loan_backend/appctx"
)

// Alias the shared context key type so existing code keeps working.
type contextKey = appctx.ContextKey

var (
	ContextKeyVerifierId    = appctx.ContextKeyVerifierId
	ContextKeyVerifierName  = appctx.ContextKeyVerifierName
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
)

func GetVerifierIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyVerifierId)
}

func GetVerifierNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyVerifierName)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetVerifierIdInContext(ctx context.Context, verifierId int) context.Context {
	return appctx.Set(ctx, ContextKeyVerifierId, verifierId)
}

func SetVerifierNameInContext(ctx context.Context, verifierName string) context.Context {
	return appctx.Set(ctx, ContextKeyVerifierName, verifierName)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}
