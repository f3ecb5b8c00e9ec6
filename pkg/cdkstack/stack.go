// Where: pkg/cdkstack/stack.go
// What: Materialize a validated resource graph as aws-cdk constructs.
// Why: Keep the provider binding in one place so declarations stay backend-neutral.
package cdkstack

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsapigateway"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsdynamodb"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsiam"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambdaeventsources"
	"github.com/aws/aws-cdk-go/awscdk/v2/awss3"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"
	"github.com/jedrekdomanski/ai-caption-craft/pkg/stackgraph"
)

type StackProps struct {
	awscdk.StackProps
	// AssetRoot is the directory function and layer sources are resolved against.
	AssetRoot string
}

type materializer struct {
	stack     awscdk.Stack
	assetRoot string

	buckets   map[string]awss3.Bucket
	tables    map[string]awsdynamodb.Table
	layers    map[string]awslambda.LayerVersion
	functions map[string]awslambda.Function
	gateways  map[string]awsapigateway.LambdaRestApi
}

// New adds a stack named id to scope and declares every resource of graph in creation order.
// Bindings, grants and outputs follow once all resources exist.
func New(scope constructs.Construct, id string, graph *stackgraph.Graph, props *StackProps) (awscdk.Stack, error) {
	if graph == nil {
		return nil, fmt.Errorf("materialize %s: graph is required", id)
	}
	var sprops awscdk.StackProps
	var assetRoot string
	if props != nil {
		sprops = props.StackProps
		assetRoot = props.AssetRoot
	}
	if sprops.Env == nil {
		sprops.Env = environment(graph.Context())
	}

	m := &materializer{
		stack:     awscdk.NewStack(scope, jsii.String(id), &sprops),
		assetRoot: assetRoot,
		buckets:   make(map[string]awss3.Bucket),
		tables:    make(map[string]awsdynamodb.Table),
		layers:    make(map[string]awslambda.LayerVersion),
		functions: make(map[string]awslambda.Function),
		gateways:  make(map[string]awsapigateway.LambdaRestApi),
	}

	for _, resID := range graph.CreationOrder() {
		res, ok := graph.Resource(resID)
		if !ok {
			return nil, fmt.Errorf("materialize %s: resource %q vanished from graph", id, resID)
		}
		if err := m.declare(res); err != nil {
			return nil, fmt.Errorf("materialize %s: %w", id, err)
		}
	}
	for _, binding := range graph.Bindings() {
		if err := m.bind(binding); err != nil {
			return nil, fmt.Errorf("materialize %s: %w", id, err)
		}
	}
	for _, p := range graph.Permissions() {
		if err := m.grant(p); err != nil {
			return nil, fmt.Errorf("materialize %s: %w", id, err)
		}
	}
	for _, a := range graph.ActionGrants() {
		fn, ok := m.functions[a.Grantee.ID]
		if !ok {
			return nil, fmt.Errorf("materialize %s: action grantee %q is not a function", id, a.Grantee.ID)
		}
		fn.AddToRolePolicy(awsiam.NewPolicyStatement(&awsiam.PolicyStatementProps{
			Effect:    awsiam.Effect_ALLOW,
			Actions:   jsii.Strings(a.Action),
			Resources: jsii.Strings(a.ResourcePattern),
		}))
	}
	for _, out := range graph.Outputs() {
		value, err := m.attribute(out.Value, out.Attribute)
		if err != nil {
			return nil, fmt.Errorf("materialize %s: output %s: %w", id, out.ID, err)
		}
		props := &awscdk.CfnOutputProps{Value: value}
		if out.ExportName != "" {
			props.ExportName = jsii.String(out.ExportName)
		}
		awscdk.NewCfnOutput(m.stack, jsii.String(out.ID), props)
	}
	return m.stack, nil
}

func environment(ctx stackgraph.DeploymentContext) *awscdk.Environment {
	if ctx.Account == "" && ctx.Region == "" {
		return nil
	}
	env := &awscdk.Environment{}
	if ctx.Account != "" {
		env.Account = jsii.String(ctx.Account)
	}
	if ctx.Region != "" {
		env.Region = jsii.String(ctx.Region)
	}
	return env
}

func (m *materializer) declare(res stackgraph.Resource) error {
	switch r := res.(type) {
	case stackgraph.Bucket:
		m.declareBucket(r)
	case stackgraph.Table:
		return m.declareTable(r)
	case stackgraph.Layer:
		m.declareLayer(r)
	case stackgraph.Function:
		return m.declareFunction(r)
	case stackgraph.Gateway:
		return m.declareGateway(r)
	default:
		return fmt.Errorf("unsupported resource kind %s", res.Kind())
	}
	return nil
}

func (m *materializer) declareBucket(b stackgraph.Bucket) {
	props := &awss3.BucketProps{
		RemovalPolicy: removalPolicy(b.RemovalPolicy),
	}
	if b.AutoDeleteObjects {
		props.AutoDeleteObjects = jsii.Bool(true)
	}
	bucket := awss3.NewBucket(m.stack, jsii.String(b.ID), props)
	for _, rule := range b.CORS {
		bucket.AddCorsRule(corsRule(rule))
	}
	m.buckets[b.ID] = bucket
}

func corsRule(rule stackgraph.CORSRule) *awss3.CorsRule {
	methods := make([]awss3.HttpMethods, 0, len(rule.AllowedMethods))
	for _, method := range rule.AllowedMethods {
		methods = append(methods, awss3.HttpMethods(method))
	}
	out := &awss3.CorsRule{
		AllowedMethods: &methods,
		AllowedOrigins: jsii.Strings(rule.AllowedOrigins...),
	}
	if len(rule.AllowedHeaders) > 0 {
		out.AllowedHeaders = jsii.Strings(rule.AllowedHeaders...)
	}
	if rule.MaxAge > 0 {
		out.MaxAge = jsii.Number(float64(rule.MaxAge))
	}
	return out
}

func (m *materializer) declareTable(t stackgraph.Table) error {
	attrType, err := attributeType(t.PartitionKey.Type)
	if err != nil {
		return fmt.Errorf("table %s: %w", t.ID, err)
	}
	m.tables[t.ID] = awsdynamodb.NewTable(m.stack, jsii.String(t.ID), &awsdynamodb.TableProps{
		PartitionKey: &awsdynamodb.Attribute{
			Name: jsii.String(t.PartitionKey.Name),
			Type: attrType,
		},
		RemovalPolicy: removalPolicy(t.RemovalPolicy),
	})
	return nil
}

func (m *materializer) declareLayer(l stackgraph.Layer) {
	runtimes := make([]awslambda.Runtime, 0, len(l.CompatibleRuntimes))
	for _, name := range l.CompatibleRuntimes {
		runtimes = append(runtimes, Runtime(name))
	}
	props := &awslambda.LayerVersionProps{
		Code:               awslambda.Code_FromAsset(jsii.String(m.asset(l.Source)), nil),
		CompatibleRuntimes: &runtimes,
	}
	if l.License != "" {
		props.License = jsii.String(l.License)
	}
	if l.Description != "" {
		props.Description = jsii.String(l.Description)
	}
	m.layers[l.ID] = awslambda.NewLayerVersion(m.stack, jsii.String(l.ID), props)
}

func (m *materializer) declareFunction(f stackgraph.Function) error {
	layers := make([]awslambda.ILayerVersion, 0, len(f.Layers))
	for _, ref := range f.Layers {
		layer, ok := m.layers[ref.ID]
		if !ok {
			return fmt.Errorf("function %s: layer %q is not declared yet", f.ID, ref.ID)
		}
		layers = append(layers, layer)
	}
	env := make(map[string]*string, len(f.Environment))
	for _, key := range f.EnvironmentKeys() {
		value, err := m.reference(f.Environment[key])
		if err != nil {
			return fmt.Errorf("function %s: environment %s: %w", f.ID, key, err)
		}
		env[key] = value
	}

	props := &awslambda.FunctionProps{
		Code:       awslambda.Code_FromAsset(jsii.String(m.asset(f.Source)), nil),
		Runtime:    Runtime(f.Runtime),
		Handler:    jsii.String(f.Handler),
		Timeout:    awscdk.Duration_Seconds(jsii.Number(f.Timeout.Seconds())),
		MemorySize: jsii.Number(float64(f.MemoryMB)),
	}
	if len(layers) > 0 {
		props.Layers = &layers
	}
	if len(env) > 0 {
		props.Environment = &env
	}
	m.functions[f.ID] = awslambda.NewFunction(m.stack, jsii.String(f.ID), props)
	return nil
}

func (m *materializer) declareGateway(g stackgraph.Gateway) error {
	handler, ok := m.functions[g.Handler.ID]
	if !ok {
		return fmt.Errorf("gateway %s: handler %q is not declared yet", g.ID, g.Handler.ID)
	}
	props := &awsapigateway.LambdaRestApiProps{
		Handler: handler,
		Proxy:   jsii.Bool(g.Proxy),
	}
	if g.CORS != nil {
		props.DefaultCorsPreflightOptions = &awsapigateway.CorsOptions{
			AllowOrigins: allowOrigins(g.CORS.AllowOrigins),
			AllowMethods: allowMethods(g.CORS.AllowMethods),
		}
	}
	api := awsapigateway.NewLambdaRestApi(m.stack, jsii.String(g.ID), props)
	if !g.Proxy {
		for _, route := range g.Routes {
			resource := api.Root()
			if route.Path != "/" {
				resource = resource.ResourceForPath(jsii.String(route.Path))
			}
			for _, method := range route.Methods {
				resource.AddMethod(jsii.String(string(method)), nil, nil)
			}
		}
	}
	m.gateways[g.ID] = api
	return nil
}

func allowOrigins(origins []string) *[]*string {
	if slices.Equal(origins, stackgraph.AllOrigins) {
		return awsapigateway.Cors_ALL_ORIGINS()
	}
	return jsii.Strings(origins...)
}

func allowMethods(methods []stackgraph.HTTPMethod) *[]*string {
	if slices.Equal(methods, stackgraph.AllMethods) {
		return awsapigateway.Cors_ALL_METHODS()
	}
	out := make([]string, 0, len(methods))
	for _, method := range methods {
		out = append(out, string(method))
	}
	return jsii.Strings(out...)
}

func (m *materializer) bind(binding stackgraph.EventBinding) error {
	bucket, ok := m.buckets[binding.Source.ID]
	if !ok {
		return fmt.Errorf("binding source %q is not a bucket", binding.Source.ID)
	}
	fn, ok := m.functions[binding.Target.ID]
	if !ok {
		return fmt.Errorf("binding target %q is not a function", binding.Target.ID)
	}
	var event awss3.EventType
	switch binding.Event {
	case stackgraph.EventObjectCreated:
		event = awss3.EventType_OBJECT_CREATED
	case stackgraph.EventObjectRemoved:
		event = awss3.EventType_OBJECT_REMOVED
	default:
		return fmt.Errorf("binding %s -> %s: unsupported event %q", binding.Source.ID, binding.Target.ID, binding.Event)
	}
	fn.AddEventSource(awslambdaeventsources.NewS3EventSource(bucket, &awslambdaeventsources.S3EventSourceProps{
		Events: &[]awss3.EventType{event},
	}))
	return nil
}

func (m *materializer) grant(p stackgraph.Permission) error {
	fn, ok := m.functions[p.Grantee.ID]
	if !ok {
		return fmt.Errorf("grantee %q is not a function", p.Grantee.ID)
	}
	if bucket, ok := m.buckets[p.Resource.ID]; ok {
		switch p.Capability {
		case stackgraph.CapabilityRead:
			bucket.GrantRead(fn, nil)
		case stackgraph.CapabilityWrite:
			bucket.GrantWrite(fn, nil, nil)
		case stackgraph.CapabilityReadWrite:
			bucket.GrantReadWrite(fn, nil)
		case stackgraph.CapabilityPut:
			bucket.GrantPut(fn, nil)
		default:
			return fmt.Errorf("bucket %s: unsupported capability %q", p.Resource.ID, p.Capability)
		}
		return nil
	}
	if table, ok := m.tables[p.Resource.ID]; ok {
		switch p.Capability {
		case stackgraph.CapabilityRead:
			table.GrantReadData(fn)
		case stackgraph.CapabilityWrite:
			table.GrantWriteData(fn)
		case stackgraph.CapabilityReadWrite:
			table.GrantReadWriteData(fn)
		default:
			return fmt.Errorf("table %s: unsupported capability %q", p.Resource.ID, p.Capability)
		}
		return nil
	}
	return fmt.Errorf("grant target %q is neither a bucket nor a table", p.Resource.ID)
}

// reference resolves an environment reference to the token the function reads at run time.
func (m *materializer) reference(ref stackgraph.Ref) (*string, error) {
	if _, ok := m.layers[ref.ID]; ok {
		return m.attribute(ref, stackgraph.OutputArn)
	}
	if _, ok := m.gateways[ref.ID]; ok {
		return m.attribute(ref, stackgraph.OutputURL)
	}
	return m.attribute(ref, stackgraph.OutputName)
}

func (m *materializer) attribute(ref stackgraph.Ref, attr stackgraph.OutputAttribute) (*string, error) {
	if bucket, ok := m.buckets[ref.ID]; ok {
		switch attr {
		case stackgraph.OutputName:
			return bucket.BucketName(), nil
		case stackgraph.OutputArn:
			return bucket.BucketArn(), nil
		}
	}
	if table, ok := m.tables[ref.ID]; ok {
		switch attr {
		case stackgraph.OutputName:
			return table.TableName(), nil
		case stackgraph.OutputArn:
			return table.TableArn(), nil
		}
	}
	if fn, ok := m.functions[ref.ID]; ok {
		switch attr {
		case stackgraph.OutputName:
			return fn.FunctionName(), nil
		case stackgraph.OutputArn:
			return fn.FunctionArn(), nil
		}
	}
	if layer, ok := m.layers[ref.ID]; ok && attr == stackgraph.OutputArn {
		return layer.LayerVersionArn(), nil
	}
	if api, ok := m.gateways[ref.ID]; ok && attr == stackgraph.OutputURL {
		return api.Url(), nil
	}
	return nil, fmt.Errorf("%s has no materialized %s attribute", ref, attr)
}

func (m *materializer) asset(source string) string {
	if m.assetRoot == "" || filepath.IsAbs(source) {
		return source
	}
	return filepath.Join(m.assetRoot, source)
}

func removalPolicy(policy stackgraph.RemovalPolicy) awscdk.RemovalPolicy {
	switch policy {
	case stackgraph.RemovalDestroy:
		return awscdk.RemovalPolicy_DESTROY
	case stackgraph.RemovalSnapshot:
		return awscdk.RemovalPolicy_SNAPSHOT
	default:
		return awscdk.RemovalPolicy_RETAIN
	}
}

func attributeType(t stackgraph.AttributeType) (awsdynamodb.AttributeType, error) {
	switch t {
	case stackgraph.AttributeString:
		return awsdynamodb.AttributeType_STRING, nil
	case stackgraph.AttributeNumber:
		return awsdynamodb.AttributeType_NUMBER, nil
	case stackgraph.AttributeBinary:
		return awsdynamodb.AttributeType_BINARY, nil
	default:
		return "", fmt.Errorf("unsupported attribute type %q", t)
	}
}
