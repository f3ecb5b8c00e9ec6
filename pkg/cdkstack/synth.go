package cdkstack

import (
	"fmt"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/jsii-runtime-go"
	"github.com/jedrekdomanski/ai-caption-craft/pkg/stackgraph"
)

type Options struct {
	StackName   string
	Description string
	// OutDir receives the cloud assembly. Empty lets the app pick a temporary directory.
	OutDir    string
	AssetRoot string
}

// Synth materializes graph into a fresh app and writes the cloud assembly.
// It returns the assembly directory. Construct library panics surface as errors.
func Synth(graph *stackgraph.Graph, opts Options) (dir string, err error) {
	if opts.StackName == "" {
		return "", fmt.Errorf("synthesize: stack name is required")
	}
	defer func() {
		if r := recover(); r != nil {
			dir = ""
			err = fmt.Errorf("synthesize %s: %v", opts.StackName, r)
		}
	}()

	appProps := &awscdk.AppProps{}
	if opts.OutDir != "" {
		appProps.Outdir = jsii.String(opts.OutDir)
	}
	app := awscdk.NewApp(appProps)

	props := &StackProps{AssetRoot: opts.AssetRoot}
	if opts.Description != "" {
		props.Description = jsii.String(opts.Description)
	}
	if _, err := New(app, opts.StackName, graph, props); err != nil {
		return "", err
	}
	assembly := app.Synth(nil)
	return *assembly.Directory(), nil
}
