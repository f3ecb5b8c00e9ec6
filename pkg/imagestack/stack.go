// Where: pkg/imagestack/stack.go
// What: Declaration of the image-labeling pipeline as a resource graph.
// Why: One pure function from deployment context and config to the graph every backend consumes.
package imagestack

import (
	"strings"
	"time"

	"github.com/jedrekdomanski/ai-caption-craft/pkg/stackgraph"
)

const (
	DefaultStackName   = "AiCaptionCraftStack"
	DefaultImageBucket = "cdk-rekn-imagebucket"
	DefaultRuntime     = "python3.12"
	DefaultHandler     = "index.handler"

	TableID               = "ImageLabels"
	TablePartitionKey     = "image"
	LayerID               = "pil"
	RecognitionFunctionID = "rekognitionFunction"
	ServiceFunctionID     = "serviceFunction"
	GatewayID             = "imageAPI"

	EnvTable         = "TABLE"
	EnvBucket        = "BUCKET"
	EnvResizedBucket = "RESIZEDBUCKET"

	DetectLabelsAction = "rekognition:DetectLabels"

	OutputImageBucket   = "ImageBucketName"
	OutputResizedBucket = "ResizedBucketName"
	OutputTable         = "ImageLabelsTableName"
	OutputAPI           = "ImageAPIUrl"

	recognitionTimeout  = 30 * time.Second
	recognitionMemoryMB = 1024
	corsMaxAge          = 3000
)

func bucketCORS() []stackgraph.CORSRule {
	return []stackgraph.CORSRule{{
		AllowedMethods: []stackgraph.HTTPMethod{stackgraph.MethodGet, stackgraph.MethodPut},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
		MaxAge:         corsMaxAge,
	}}
}

// Define declares the pipeline selected by cfg and returns the validated graph.
func Define(ctx stackgraph.DeploymentContext, cfg Config) (*stackgraph.Graph, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := stackgraph.NewBuilder(ctx, stackgraph.WithBucketCORSMethods(stackgraph.MethodGet, stackgraph.MethodPut))

	image := b.DeclareBucket(cfg.ImageBucket, stackgraph.BucketOptions{
		RemovalPolicy:     cfg.Removal.ImageBucket,
		AutoDeleteObjects: cfg.AutoDeleteImages(),
		CORS:              bucketCORS(),
	})
	resized := b.DeriveResizedBucket(image, stackgraph.BucketOptions{
		RemovalPolicy: cfg.Removal.ResizedBucket,
		CORS:          bucketCORS(),
	})
	b.DeclareOutput(OutputImageBucket, image, stackgraph.OutputName, "")
	b.DeclareOutput(OutputResizedBucket, resized, stackgraph.OutputName, "")

	var table stackgraph.Ref
	if cfg.TableEnabled() {
		table = b.DeclareTable(TableID, stackgraph.Attribute{Name: TablePartitionKey, Type: stackgraph.AttributeString}, cfg.Removal.Table)
		b.DeclareOutput(OutputTable, table, stackgraph.OutputName, "")
	}

	if cfg.ComputeEnabled() {
		declareCompute(b, cfg, image, resized, table)
	}
	return b.Build()
}

func declareCompute(b *stackgraph.Builder, cfg Config, image, resized, table stackgraph.Ref) {
	environment := func() map[string]stackgraph.Ref {
		env := map[string]stackgraph.Ref{
			EnvBucket:        image,
			EnvResizedBucket: resized,
		}
		if !table.IsZero() {
			env[EnvTable] = table
		}
		return env
	}

	layer := b.DeclareLayer(LayerID, stackgraph.LayerOptions{
		Source:             cfg.Functions.LayerSource,
		CompatibleRuntimes: []string{cfg.Functions.Runtime},
		License:            "Apache-2.0",
		Description:        "A layer to enable the PIL library in our Rekognition Lambda",
	})

	recognition := b.DeclareFunction(RecognitionFunctionID, stackgraph.FunctionOptions{
		Source:      cfg.Functions.RecognitionSource,
		Runtime:     cfg.Functions.Runtime,
		Handler:     cfg.Functions.Handler,
		Timeout:     recognitionTimeout,
		MemoryMB:    recognitionMemoryMB,
		Layers:      []stackgraph.Ref{layer},
		Environment: environment(),
	})
	b.BindEvent(image, stackgraph.EventObjectCreated, recognition)
	b.Grant(recognition, image, stackgraph.CapabilityRead)
	b.Grant(recognition, resized, stackgraph.CapabilityPut)
	if !table.IsZero() {
		b.Grant(recognition, table, stackgraph.CapabilityWrite)
	}
	b.GrantAction(recognition, DetectLabelsAction, "*")

	service := b.DeclareFunction(ServiceFunctionID, stackgraph.FunctionOptions{
		Source:      cfg.Functions.ServiceSource,
		Runtime:     cfg.Functions.Runtime,
		Handler:     cfg.Functions.Handler,
		Environment: environment(),
	})
	b.Grant(service, image, stackgraph.CapabilityWrite)
	b.Grant(service, resized, stackgraph.CapabilityWrite)
	if !table.IsZero() {
		b.Grant(service, table, stackgraph.CapabilityReadWrite)
	}

	api := b.DeclareGateway(GatewayID, service, stackgraph.GatewayOptions{
		Proxy:  cfg.Gateway.Proxy,
		Routes: routes(cfg.Gateway.Routes),
		CORS: &stackgraph.GatewayCORS{
			AllowOrigins: stackgraph.AllOrigins,
			AllowMethods: stackgraph.AllMethods,
		},
	})
	b.DeclareOutput(OutputAPI, api, stackgraph.OutputURL, "")
}

func routes(cfg []RouteConfig) []stackgraph.Route {
	out := make([]stackgraph.Route, 0, len(cfg))
	for _, route := range cfg {
		methods := make([]stackgraph.HTTPMethod, 0, len(route.Methods))
		for _, method := range route.Methods {
			methods = append(methods, stackgraph.HTTPMethod(strings.ToUpper(strings.TrimSpace(method))))
		}
		out = append(out, stackgraph.Route{Path: strings.TrimSpace(route.Path), Methods: methods})
	}
	return out
}
