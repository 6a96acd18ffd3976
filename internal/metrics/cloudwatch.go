// Package metrics publishes per-fetch measurements to CloudWatch. Publishing
// is best-effort: when the client is not configured every call is a no-op.
package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"chartflow/logger"
)

type cloudWatchState struct {
	client    *cloudwatch.Client
	namespace string
}

var cwState atomic.Pointer[cloudWatchState]

func init() {
	cwState.Store(&cloudWatchState{namespace: "Chartflow"})
}

// InitCloudWatch initialises the CloudWatch client. When the AWS
// configuration cannot be loaded it logs a warning and leaves publishing
// disabled rather than failing the caller.
func InitCloudWatch(region, namespace string) {
	log := logger.GetLogger().WithComponent("cloudwatch")

	ctx := context.Background()
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	state := cloudWatchState{client: cloudwatch.NewFromConfig(cfg), namespace: namespace}
	if state.namespace == "" {
		state.namespace = "Chartflow"
	}
	cwState.Store(&state)

	log.WithFields(logger.Fields{
		"region":    cfg.Region,
		"namespace": state.namespace,
	}).Info("initialized CloudWatch client")
}

// PublishFetch records the outcome of one acquisition call.
func PublishFetch(symbol string, bars int, duration time.Duration, failed bool) {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}

	dims := []cwtypes.Dimension{
		{Name: aws.String("symbol"), Value: aws.String(symbol)},
	}
	outcome := 0.0
	if failed {
		outcome = 1.0
	}
	data := []cwtypes.MetricDatum{
		{
			MetricName: aws.String("FetchDurationMs"),
			Dimensions: dims,
			Unit:       cwtypes.StandardUnitMilliseconds,
			Value:      aws.Float64(float64(duration.Milliseconds())),
		},
		{
			MetricName: aws.String("FetchBars"),
			Dimensions: dims,
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(float64(bars)),
		},
		{
			MetricName: aws.String("FetchFailures"),
			Dimensions: dims,
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(outcome),
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := state.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(state.namespace),
		MetricData: data,
	})
	if err != nil {
		logger.GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to publish fetch metrics")
	}
}
