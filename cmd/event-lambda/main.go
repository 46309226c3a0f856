package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/medspa-nurture/internal/app/bootstrap"
	appconfig "github.com/wolfman30/medspa-nurture/internal/config"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

// bodyHandler processes one event body; an error asks SQS to redeliver it.
type bodyHandler interface {
	Handle(ctx context.Context, body string) error
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	rt, err := bootstrap.BuildRuntime(context.Background(), cfg, nil, logger)
	if err != nil {
		panic(err)
	}
	worker := bootstrap.BuildEventWorker(cfg, rt, nil, logger)

	lambda.Start(func(ctx context.Context, evt events.SQSEvent) (events.SQSEventResponse, error) {
		return handle(ctx, worker, evt), nil
	})
}

// handle reports retryable records as batch item failures so only they are
// redelivered.
func handle(ctx context.Context, h bodyHandler, evt events.SQSEvent) events.SQSEventResponse {
	var resp events.SQSEventResponse
	for _, record := range evt.Records {
		if err := h.Handle(ctx, record.Body); err != nil {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
		}
	}
	return resp
}
