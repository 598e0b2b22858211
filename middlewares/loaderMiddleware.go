package middlewares

import (
	"context"
	"time"

	"github.com/creditfield/loan_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
)

type ctxKey string

const (
	loadersKey = ctxKey("dataloaders")
)

// SummarySource batches summary reads. workflow.Service implements it.
type SummarySource interface {
	GetSummaries(ctx context.Context, ids []int) (map[int]models.InvestigationSummary, error)
}

// HistorySource reads the audit trail of one investigation.
type HistorySource interface {
	ListHistory(ctx context.Context, investigationId int) ([]models.FieldHistory, error)
}

// Loaders are created per request so cached results never outlive it.
type Loaders struct {
	SummaryLoader *dataloader.Loader[int, *models.InvestigationSummary]
	HistoryLoader *dataloader.Loader[int, []*models.FieldHistory]
}

func NewLoaders(summaries SummarySource, history HistorySource) *Loaders {
	summaryReader := &summaryReader{source: summaries}
	historyReader := &historyReader{source: history}
	return &Loaders{
		SummaryLoader: dataloader.NewBatchedLoader(summaryReader.getSummaries, dataloader.WithWait[int, *models.InvestigationSummary](time.Millisecond)),
		HistoryLoader: dataloader.NewBatchedLoader(historyReader.getHistory, dataloader.WithWait[int, []*models.FieldHistory](time.Millisecond)),
	}
}

func LoaderMiddleware(summaries SummarySource, history HistorySource) gin.HandlerFunc {
	return func(c *gin.Context) {
		loader := NewLoaders(summaries, history)
		ctx := context.WithValue(c.Request.Context(), loadersKey, loader)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func For(ctx context.Context) *Loaders {
	return ctx.Value(loadersKey).(*Loaders)
}

// handleError creates array of result with the same error repeated for as many items requested
func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}

// generateLoaderMapResults orders results by ids; a missing id gets missingErr.
func generateLoaderMapResults[T any](results map[int]T, ids []int, missingErr error) []*dataloader.Result[*T] {
	loaderResults := make([]*dataloader.Result[*T], 0, len(ids))
	for _, id := range ids {
		data, ok := results[id]
		if !ok {
			loaderResults = append(loaderResults, &dataloader.Result[*T]{Error: missingErr})
			continue
		}
		loaderResults = append(loaderResults, &dataloader.Result[*T]{Data: &data})
	}
	return loaderResults
}
