// Where: cmd/caption-craft/main.go
// What: CDK app entry point invoked by the cdk toolkit through cdk.json.
// Why: Keep the toolkit contract (environment, context, synth) out of the library packages.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/jsii-runtime-go"
	"github.com/jamiealquiza/envy"
	"github.com/jedrekdomanski/ai-caption-craft/internal/envutil"
	"github.com/jedrekdomanski/ai-caption-craft/internal/identity"
	"github.com/jedrekdomanski/ai-caption-craft/internal/logger"
	"github.com/jedrekdomanski/ai-caption-craft/internal/stacksettings"
	"github.com/jedrekdomanski/ai-caption-craft/pkg/cdkstack"
	"github.com/jedrekdomanski/ai-caption-craft/pkg/imagestack"
	"github.com/jedrekdomanski/ai-caption-craft/pkg/stackgraph"
)

const contextRollout = "rollout"

type appOptions struct {
	configPath *string
	rollout    *string
	assetRoot  *string
}

func main() {
	defer jsii.Close()
	log := logger.Init()

	opts := appOptions{
		configPath: flag.String("config", "", "Path to a YAML stack config; defaults apply when empty"),
		rollout:    flag.String("rollout", "", "Override the rollout: storage, table or full"),
		assetRoot:  flag.String("assets", ".", "Directory holding the layer and function sources"),
	}
	envy.Parse(envutil.Prefix())
	flag.Parse()

	if err := run(opts, log); err != nil {
		log.Error("synthesis failed", "error", err)
		jsii.Close()
		os.Exit(1)
	}
}

func run(opts appOptions, log *slog.Logger) error {
	app := awscdk.NewApp(nil)
	contextValue, _ := app.Node().TryGetContext(jsii.String(contextRollout)).(string)
	settings := stacksettings.Resolve(*opts.configPath, *opts.rollout, contextValue)

	id, err := identity.Resolve(imagestack.DefaultStackName)
	if err != nil {
		return fmt.Errorf("resolve deployment identity: %w", err)
	}
	graph, err := buildGraph(settings, id)
	if err != nil {
		reportDeclarationErrors(err)
		return err
	}
	if id.EnvironmentAgnostic() {
		logger.Warn("stack is environment-agnostic; account and region resolve at deploy time",
			"stack", id.StackName,
			"hint", "set "+identity.EnvDefaultAccount+" and "+identity.EnvDefaultRegion+" to pin them",
		)
	}
	log.Info("stack declared",
		"stack", id.StackName,
		"account", id.Account,
		"region", id.Region,
		"rollout", settings.Rollout,
		"rollout_source", settings.RolloutSource,
		"resources", len(graph.Resources()),
		"digest", graph.Digest(),
	)

	if _, err := cdkstack.New(app, id.StackName, graph, &cdkstack.StackProps{AssetRoot: *opts.assetRoot}); err != nil {
		return err
	}
	app.Synth(nil)
	return nil
}

// reportDeclarationErrors logs one line per invalid declaration carried by err.
func reportDeclarationErrors(err error) {
	for _, decl := range stackgraph.DeclarationErrors(err) {
		logger.Error("invalid declaration", "resource", decl.Resource, "problem", decl.Msg)
	}
}

func buildGraph(settings stacksettings.Settings, id identity.DeploymentIdentity) (*stackgraph.Graph, error) {
	graph, _, err := settings.Declare(id)
	return graph, err
}
