package cloudwatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	"github.com/kgrsutos/botsentry/internal/models"
)

// CloudWatchLogsAPI defines the interface for CloudWatch Logs operations
type CloudWatchLogsAPI interface {
	FilterLogEvents(ctx context.Context, params *cloudwatchlogs.FilterLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error)
}

// Query selects the access log events to fetch
type Query struct {
	LogGroupName string
	StartTime    time.Time
	EndTime      time.Time
	// FilterPattern is passed to CloudWatch as is; empty fetches every event
	FilterPattern string
}

// Client wraps AWS CloudWatch Logs client
type Client struct {
	api CloudWatchLogsAPI
}

// NewClient creates a new CloudWatch client with AWS SDK configuration
func NewClient(ctx context.Context, profile string) (*Client, error) {
	var cfg aws.Config
	var err error

	if profile != "" {
		cfg, err = config.LoadDefaultConfig(ctx, config.WithSharedConfigProfile(profile))
	} else {
		cfg, err = config.LoadDefaultConfig(ctx)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Client{
		api: cloudwatchlogs.NewFromConfig(cfg),
	}, nil
}

// NewClientWithAPI creates a new CloudWatch client with a custom API implementation
// This is primarily used for testing
func NewClientWithAPI(api CloudWatchLogsAPI) *Client {
	return &Client{
		api: api,
	}
}

// FetchLogEvents retrieves every event matching q, following pagination tokens
func (c *Client) FetchLogEvents(ctx context.Context, q Query) ([]*models.LogEvent, error) {
	events := make([]*models.LogEvent, 0)
	var nextToken *string
	pages := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		input := &cloudwatchlogs.FilterLogEventsInput{
			LogGroupName: aws.String(q.LogGroupName),
			StartTime:    aws.Int64(q.StartTime.UnixMilli()),
			EndTime:      aws.Int64(q.EndTime.UnixMilli()),
			NextToken:    nextToken,
		}
		if q.FilterPattern != "" {
			input.FilterPattern = aws.String(q.FilterPattern)
		}

		output, err := c.api.FilterLogEvents(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to filter log events in %s: %w", q.LogGroupName, err)
		}
		pages++

		events = append(events, ToLogEvents(output.Events)...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	slog.Debug("Fetched CloudWatch log events", "logGroup", q.LogGroupName, "pages", pages, "events", len(events))
	return events, nil
}

// ToLogEvents converts CloudWatch events, dropping those without a message
func ToLogEvents(filtered []types.FilteredLogEvent) []*models.LogEvent {
	events := make([]*models.LogEvent, 0, len(filtered))
	for _, e := range filtered {
		if e.Message == nil {
			continue
		}
		event := &models.LogEvent{Message: *e.Message}
		if e.Timestamp != nil {
			event.Timestamp = time.UnixMilli(*e.Timestamp).UTC()
		}
		events = append(events, event)
	}
	return events
}
