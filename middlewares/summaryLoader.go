package middlewares

import (
	"context"

	"github.com/creditfield/loan_backend/models"
	"github.com/creditfield/loan_backend/utils"
	"github.com/graph-gophers/dataloader/v7"
)

type summaryReader struct {
	source SummarySource
}

func (r *summaryReader) getSummaries(ctx context.Context, ids []int) []*dataloader.Result[*models.InvestigationSummary] {
	results, err := r.source.GetSummaries(ctx, ids)
	if err != nil {
		return handleError[*models.InvestigationSummary](len(ids), err)
	}
	return generateLoaderMapResults(results, ids, utils.ErrorRecordNotFound)
}

func GetSummary(ctx context.Context, id int) (*models.InvestigationSummary, error) {
	loaders := For(ctx)
	return loaders.SummaryLoader.Load(ctx, id)()
}

func GetSummaries(ctx context.Context, ids []int) ([]*models.InvestigationSummary, []error) {
	loaders := For(ctx)
	return loaders.SummaryLoader.LoadMany(ctx, ids)()
}

type historyReader struct {
	source HistorySource
}

// the audit trail has no batched query, each id is read in turn
func (r *historyReader) getHistory(ctx context.Context, ids []int) []*dataloader.Result[[]*models.FieldHistory] {
	loaderResults := make([]*dataloader.Result[[]*models.FieldHistory], 0, len(ids))
	for _, id := range ids {
		rows, err := r.source.ListHistory(ctx, id)
		if err != nil {
			loaderResults = append(loaderResults, &dataloader.Result[[]*models.FieldHistory]{Error: err})
			continue
		}
		out := make([]*models.FieldHistory, 0, len(rows))
		for i := range rows {
			out = append(out, &rows[i])
		}
		loaderResults = append(loaderResults, &dataloader.Result[[]*models.FieldHistory]{Data: out})
	}
	return loaderResults
}

func GetHistory(ctx context.Context, investigationId int) ([]*models.FieldHistory, error) {
	loaders := For(ctx)
	return loaders.HistoryLoader.Load(ctx, investigationId)()
}
