package cdkstack

import (
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/jsii-runtime-go"
)

var knownRuntimes = map[string]func() awslambda.Runtime{
	"python3.9":       awslambda.Runtime_PYTHON_3_9,
	"python3.10":      awslambda.Runtime_PYTHON_3_10,
	"python3.11":      awslambda.Runtime_PYTHON_3_11,
	"python3.12":      awslambda.Runtime_PYTHON_3_12,
	"nodejs18.x":      awslambda.Runtime_NODEJS_18_X,
	"nodejs20.x":      awslambda.Runtime_NODEJS_20_X,
	"java21":          awslambda.Runtime_JAVA_21,
	"provided.al2":    awslambda.Runtime_PROVIDED_AL2,
	"provided.al2023": awslambda.Runtime_PROVIDED_AL2023,
}

// Runtime maps a runtime identifier such as "python3.12" to its construct value.
// Unknown identifiers are passed through so newer runtimes do not need a release here.
func Runtime(name string) awslambda.Runtime {
	if known, ok := knownRuntimes[name]; ok {
		return known()
	}
	return awslambda.NewRuntime(jsii.String(name), awslambda.RuntimeFamily_OTHER, nil)
}
