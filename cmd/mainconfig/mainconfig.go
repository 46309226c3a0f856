package mainconfig

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"

	appconfig "github.com/wolfman30/medspa-nurture/internal/config"
	"github.com/wolfman30/medspa-nurture/internal/inbound"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

// LoadEnv reads a .env file when present. Real environment variables win.
func LoadEnv() {
	_ = godotenv.Load()
}

// LoadAWSConfig centralizes AWS SDK initialization so every binary shares the
// same LocalStack/production wiring.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, err
	}

	if endpoint := cfg.AWSEndpointOverride; endpoint != "" {
		awsCfg.EndpointResolverWithOptions = aws.EndpointResolverWithOptionsFunc(
			func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
				if service == sqs.ServiceID {
					return aws.Endpoint{
						URL:           endpoint,
						PartitionID:   "aws",
						SigningRegion: cfg.AWSRegion,
					}, nil
				}
				return aws.Endpoint{}, &aws.EndpointNotFoundError{}
			},
		)
	}

	return awsCfg, nil
}

// BuildEventQueue returns the SQS event queue, or an in-process queue when
// USE_MEMORY_QUEUE is set or no queue URL is configured. The bool reports
// whether the queue is in-process, in which case the caller must run the
// worker itself.
func BuildEventQueue(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (inbound.Queue, bool, error) {
	if cfg.UseMemoryQueue || strings.TrimSpace(cfg.EventQueueURL) == "" {
		logger.Warn("using in-memory event queue")
		return inbound.NewMemoryQueue(256), true, nil
	}
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, false, err
	}
	return inbound.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.EventQueueURL), false, nil
}
