package cdkstack

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/assertions"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsdynamodb"
	"github.com/aws/jsii-runtime-go"
	"github.com/jedrekdomanski/ai-caption-craft/pkg/imagestack"
	"github.com/jedrekdomanski/ai-caption-craft/pkg/stackgraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testContext = stackgraph.DeploymentContext{Account: "123456789012", Region: "us-east-1"}

func requireNode(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node is required by the construct library runtime")
	}
}

func writeAssets(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, dir := range []string{"reklayer", "rekognitionlambda", "servicelambda"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, dir, "index.py"), []byte("def handler(event, context):\n    return None\n"), 0o644))
	}
	return root
}

func templateFor(t *testing.T, cfg imagestack.Config) assertions.Template {
	t.Helper()
	requireNode(t)
	graph, err := imagestack.Define(testContext, cfg)
	require.NoError(t, err)

	app := awscdk.NewApp(nil)
	stack, err := New(app, imagestack.DefaultStackName, graph, &StackProps{AssetRoot: writeAssets(t)})
	require.NoError(t, err)
	return assertions.Template_FromStack(stack, nil)
}

func TestNewMaterializesFullPipeline(t *testing.T) {
	template := templateFor(t, imagestack.DefaultConfig())

	template.ResourceCountIs(jsii.String("AWS::S3::Bucket"), jsii.Number(2))
	template.ResourceCountIs(jsii.String("AWS::DynamoDB::Table"), jsii.Number(1))
	template.ResourceCountIs(jsii.String("AWS::Lambda::LayerVersion"), jsii.Number(1))
	template.ResourceCountIs(jsii.String("AWS::ApiGateway::RestApi"), jsii.Number(1))
	template.ResourceCountIs(jsii.String("Custom::S3AutoDeleteObjects"), jsii.Number(1))

	template.HasResourceProperties(jsii.String("AWS::DynamoDB::Table"), map[string]interface{}{
		"KeySchema": []interface{}{
			map[string]interface{}{"AttributeName": "image", "KeyType": "HASH"},
		},
	})
	template.HasResourceProperties(jsii.String("AWS::Lambda::Function"), map[string]interface{}{
		"Handler":    "index.handler",
		"Runtime":    "python3.12",
		"Timeout":    30,
		"MemorySize": 1024,
	})
	template.HasResourceProperties(jsii.String("AWS::S3::Bucket"), map[string]interface{}{
		"CorsConfiguration": map[string]interface{}{
			"CorsRules": []interface{}{
				map[string]interface{}{
					"AllowedMethods": []interface{}{"GET", "PUT"},
					"AllowedOrigins": []interface{}{"*"},
					"AllowedHeaders": []interface{}{"*"},
					"MaxAge":         3000,
				},
			},
		},
	})
}

func TestNewGrantsDetectLabelsOnEverything(t *testing.T) {
	template := templateFor(t, imagestack.DefaultConfig())

	template.HasResourceProperties(jsii.String("AWS::IAM::Policy"), assertions.Match_ObjectLike(&map[string]interface{}{
		"PolicyDocument": assertions.Match_ObjectLike(&map[string]interface{}{
			"Statement": assertions.Match_ArrayWith(&[]interface{}{
				assertions.Match_ObjectLike(&map[string]interface{}{
					"Action":   "rekognition:DetectLabels",
					"Effect":   "Allow",
					"Resource": "*",
				}),
			}),
		}),
	}))
}

func TestNewDeclaresRoutesWhenNotProxy(t *testing.T) {
	template := templateFor(t, imagestack.DefaultConfig())

	template.HasResourceProperties(jsii.String("AWS::ApiGateway::Resource"), map[string]interface{}{
		"PathPart": "{image}",
	})
	template.HasResourceProperties(jsii.String("AWS::ApiGateway::Method"), map[string]interface{}{
		"HttpMethod": "DELETE",
	})
}

func TestNewStorageRolloutHasNoCompute(t *testing.T) {
	cfg := imagestack.DefaultConfig()
	cfg.Rollout = imagestack.RolloutStorage
	template := templateFor(t, cfg)

	template.ResourceCountIs(jsii.String("AWS::S3::Bucket"), jsii.Number(2))
	template.ResourceCountIs(jsii.String("AWS::DynamoDB::Table"), jsii.Number(0))
	template.ResourceCountIs(jsii.String("AWS::Lambda::LayerVersion"), jsii.Number(0))
	template.ResourceCountIs(jsii.String("AWS::ApiGateway::RestApi"), jsii.Number(0))
	template.ResourceCountIs(jsii.String("Custom::S3AutoDeleteObjects"), jsii.Number(0))
}

func TestNewExportsOutputs(t *testing.T) {
	template := templateFor(t, imagestack.DefaultConfig())

	outputs := template.FindOutputs(jsii.String("*"), nil)
	require.NotNil(t, outputs)
	for _, id := range []string{imagestack.OutputImageBucket, imagestack.OutputResizedBucket, imagestack.OutputTable, imagestack.OutputAPI} {
		_, ok := (*outputs)[id]
		assert.True(t, ok, "missing output %s", id)
	}
}

func TestNewRejectsNilGraph(t *testing.T) {
	_, err := New(nil, "Empty", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "graph is required")
}

func TestSynthWritesAssembly(t *testing.T) {
	requireNode(t)
	graph, err := imagestack.Define(testContext, imagestack.DefaultConfig())
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "cdk.out")
	dir, err := Synth(graph, Options{StackName: imagestack.DefaultStackName, OutDir: out, AssetRoot: writeAssets(t)})
	require.NoError(t, err)
	assert.DirExists(t, dir)
	assert.FileExists(t, filepath.Join(dir, imagestack.DefaultStackName+".template.json"))
}

func TestSynthRequiresStackName(t *testing.T) {
	_, err := Synth(nil, Options{})
	require.Error(t, err)
}

func TestRemovalPolicyMapping(t *testing.T) {
	assert.Equal(t, awscdk.RemovalPolicy_DESTROY, removalPolicy(stackgraph.RemovalDestroy))
	assert.Equal(t, awscdk.RemovalPolicy_RETAIN, removalPolicy(stackgraph.RemovalRetain))
	assert.Equal(t, awscdk.RemovalPolicy_SNAPSHOT, removalPolicy(stackgraph.RemovalSnapshot))
	assert.Equal(t, awscdk.RemovalPolicy_RETAIN, removalPolicy(""))
}

func TestAttributeTypeMapping(t *testing.T) {
	got, err := attributeType(stackgraph.AttributeString)
	require.NoError(t, err)
	assert.Equal(t, awsdynamodb.AttributeType_STRING, got)

	_, err = attributeType("X")
	assert.Error(t, err)
}
