package aws

import (
	"context"

	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/drblury/streambridge/health"
)

// APIIndicator calls SNS ListTopics; any answer means the API is reachable
// with the configured credentials.
type APIIndicator struct {
	topics TopicAPI
	region string
}

func NewAPIIndicator(topics TopicAPI, region string) *APIIndicator {
	return &APIIndicator{topics: topics, region: region}
}

func (a *APIIndicator) Health(ctx context.Context) health.Verdict {
	if _, err := a.topics.ListTopics(ctx, &amazonsns.ListTopicsInput{}); err != nil {
		return health.DownWithError(err).With("region", a.region)
	}
	return health.Up().With("region", a.region)
}
