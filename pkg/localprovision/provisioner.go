package localprovision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/jedrekdomanski/ai-caption-craft/pkg/stackgraph"
)

// Provisioner creates the storage part of a graph against local endpoints.
// Functions, gateways and grants have no local counterpart and are ignored.
type Provisioner struct {
	S3       S3API
	DynamoDB DynamoDBAPI
	// Region is sent as the bucket location constraint unless it is us-east-1.
	Region string
	Logger *slog.Logger
}

type Result struct {
	Created []string
	Existed []string
}

// New builds a Provisioner whose clients come from factory.
func New(ctx context.Context, factory ClientFactory, s3Endpoint, dynamoEndpoint, region string, logger *slog.Logger) (*Provisioner, error) {
	if factory == nil {
		return nil, fmt.Errorf("client factory is not configured")
	}
	storage, err := factory.S3(ctx, s3Endpoint)
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	dynamo, err := factory.DynamoDB(ctx, dynamoEndpoint)
	if err != nil {
		return nil, fmt.Errorf("create dynamodb client: %w", err)
	}
	return &Provisioner{S3: storage, DynamoDB: dynamo, Region: region, Logger: logger}, nil
}

// Apply creates missing buckets and tables in creation order. Existing ones are kept;
// bucket CORS rules are always rewritten so reruns converge.
func (p *Provisioner) Apply(ctx context.Context, g *stackgraph.Graph) (Result, error) {
	var result Result
	logger := p.logger()
	for _, id := range g.CreationOrder() {
		res, _ := g.Resource(id)
		switch r := res.(type) {
		case stackgraph.Bucket:
			if p.S3 == nil {
				return result, fmt.Errorf("bucket %s: s3 client is not configured", r.ID)
			}
			created, err := p.ensureBucket(ctx, r)
			if err != nil {
				return result, fmt.Errorf("bucket %s: %w", r.ID, err)
			}
			result.record(r.ID, created)
			logger.Info("bucket ready", "bucket", r.ID, "created", created, "cors_rules", len(r.CORS))
		case stackgraph.Table:
			if p.DynamoDB == nil {
				return result, fmt.Errorf("table %s: dynamodb client is not configured", r.ID)
			}
			created, err := p.ensureTable(ctx, r)
			if err != nil {
				return result, fmt.Errorf("table %s: %w", r.ID, err)
			}
			result.record(r.ID, created)
			logger.Info("table ready", "table", r.ID, "created", created)
		default:
			logger.Debug("skipping resource without local counterpart", "id", id, "kind", res.Kind())
		}
	}
	return result, nil
}

func (r *Result) record(id string, created bool) {
	if created {
		r.Created = append(r.Created, id)
		return
	}
	r.Existed = append(r.Existed, id)
}

func (p *Provisioner) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (p *Provisioner) ensureBucket(ctx context.Context, bucket stackgraph.Bucket) (bool, error) {
	created := false
	_, err := p.S3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket.ID)})
	if err != nil {
		var notFound *s3types.NotFound
		if !errors.As(err, &notFound) {
			return false, fmt.Errorf("head bucket: %w", err)
		}
		input := &s3.CreateBucketInput{Bucket: aws.String(bucket.ID)}
		if p.Region != "" && p.Region != DefaultRegion {
			input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
				LocationConstraint: s3types.BucketLocationConstraint(p.Region),
			}
		}
		if _, err := p.S3.CreateBucket(ctx, input); err != nil {
			var owned *s3types.BucketAlreadyOwnedByYou
			if !errors.As(err, &owned) {
				return false, fmt.Errorf("create bucket: %w", err)
			}
		} else {
			created = true
		}
	}

	if len(bucket.CORS) == 0 {
		return created, nil
	}
	rules := make([]s3types.CORSRule, 0, len(bucket.CORS))
	for _, rule := range bucket.CORS {
		methods := make([]string, 0, len(rule.AllowedMethods))
		for _, method := range rule.AllowedMethods {
			methods = append(methods, string(method))
		}
		out := s3types.CORSRule{
			AllowedMethods: methods,
			AllowedOrigins: append([]string(nil), rule.AllowedOrigins...),
			AllowedHeaders: append([]string(nil), rule.AllowedHeaders...),
		}
		if rule.MaxAge > 0 {
			out.MaxAgeSeconds = aws.Int32(int32(rule.MaxAge))
		}
		rules = append(rules, out)
	}
	_, err = p.S3.PutBucketCors(ctx, &s3.PutBucketCorsInput{
		Bucket:            aws.String(bucket.ID),
		CORSConfiguration: &s3types.CORSConfiguration{CORSRules: rules},
	})
	if err != nil {
		return created, fmt.Errorf("put bucket cors: %w", err)
	}
	return created, nil
}

func (p *Provisioner) ensureTable(ctx context.Context, table stackgraph.Table) (bool, error) {
	_, err := p.DynamoDB.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table.ID)})
	if err == nil {
		return false, nil
	}
	var notFound *ddbtypes.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return false, fmt.Errorf("describe table: %w", err)
	}

	key := table.PartitionKey.Name
	_, err = p.DynamoDB.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(table.ID),
		AttributeDefinitions: []ddbtypes.AttributeDefinition{{
			AttributeName: aws.String(key),
			AttributeType: ddbtypes.ScalarAttributeType(table.PartitionKey.Type),
		}},
		KeySchema: []ddbtypes.KeySchemaElement{{
			AttributeName: aws.String(key),
			KeyType:       ddbtypes.KeyTypeHash,
		}},
		BillingMode: ddbtypes.BillingModePayPerRequest,
	})
	if err != nil {
		var inUse *ddbtypes.ResourceInUseException
		if errors.As(err, &inUse) {
			return false, nil
		}
		return false, fmt.Errorf("create table: %w", err)
	}
	return true, nil
}
