// Where: pkg/localprovision/aws_factory.go
// What: AWS client factory for local S3 and DynamoDB endpoints.
// Why: Encapsulate SDK configuration so the provisioner only sees narrow interfaces.
package localprovision

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const DefaultRegion = "us-east-1"

type DynamoDBAPI interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutBucketCors(ctx context.Context, params *s3.PutBucketCorsInput, optFns ...func(*s3.Options)) (*s3.PutBucketCorsOutput, error)
}

var (
	_ DynamoDBAPI = (*dynamodb.Client)(nil)
	_ S3API       = (*s3.Client)(nil)
)

type ClientFactory interface {
	DynamoDB(ctx context.Context, endpoint string) (DynamoDBAPI, error)
	S3(ctx context.Context, endpoint string) (S3API, error)
}

type Credentials struct {
	AccessKey string
	SecretKey string
}

// NewClientFactory returns a factory whose clients talk to fixed endpoints with static credentials.
func NewClientFactory(region string, dynamo, storage Credentials) ClientFactory {
	if strings.TrimSpace(region) == "" {
		region = DefaultRegion
	}
	return awsClientFactory{region: region, dynamo: dynamo, storage: storage}
}

type awsClientFactory struct {
	region  string
	dynamo  Credentials
	storage Credentials
}

func (f awsClientFactory) DynamoDB(ctx context.Context, endpoint string) (DynamoDBAPI, error) {
	cfg, err := loadAWSConfig(ctx, dynamodb.ServiceID, endpoint, f.region, f.dynamo)
	if err != nil {
		return nil, err
	}
	return dynamodb.NewFromConfig(cfg), nil
}

func (f awsClientFactory) S3(ctx context.Context, endpoint string) (S3API, error) {
	cfg, err := loadAWSConfig(ctx, s3.ServiceID, endpoint, f.region, f.storage)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg, func(options *s3.Options) {
		options.UsePathStyle = true
	})
	return client, nil
}

func loadAWSConfig(
	ctx context.Context,
	serviceID string,
	endpoint string,
	region string,
	creds Credentials,
) (aws.Config, error) {
	if endpoint == "" {
		return aws.Config{}, fmt.Errorf("%s endpoint is required", serviceID)
	}

	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, _ string, _ ...any) (aws.Endpoint, error) {
			if service != serviceID {
				return aws.Endpoint{}, &aws.EndpointNotFoundError{}
			}
			return aws.Endpoint{
				URL:               endpoint,
				HostnameImmutable: true,
			}, nil
		},
	)

	provider := credentials.NewStaticCredentialsProvider(creds.AccessKey, creds.SecretKey, "")
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(provider),
		config.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load %s client config: %w", serviceID, err)
	}
	return cfg, nil
}
