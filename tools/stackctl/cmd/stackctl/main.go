package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/aws/jsii-runtime-go"
	"github.com/jedrekdomanski/ai-caption-craft/internal/envutil"
	"github.com/jedrekdomanski/ai-caption-craft/internal/identity"
	"github.com/jedrekdomanski/ai-caption-craft/internal/logger"
	"github.com/jedrekdomanski/ai-caption-craft/internal/stacksettings"
	"github.com/jedrekdomanski/ai-caption-craft/pkg/cdkdeploy"
	"github.com/jedrekdomanski/ai-caption-craft/pkg/cdkstack"
	"github.com/jedrekdomanski/ai-caption-craft/pkg/imagestack"
	"github.com/jedrekdomanski/ai-caption-craft/pkg/localprovision"
	"github.com/jedrekdomanski/ai-caption-craft/pkg/stackgraph"
	"github.com/jedrekdomanski/ai-caption-craft/pkg/stackmanifest"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

const generatorName = "stackctl"

var version = "dev"

type CLI struct {
	EnvFile string `name:"env-file" type:"path" help:"Load CAPTION_* and AWS variables from a dotenv file (existing variables win)"`

	Plan           PlanCmd           `cmd:"" help:"Validate the stack declaration and print its manifest"`
	Synth          SynthCmd          `cmd:"" help:"Synthesize the cloud assembly in-process"`
	Deploy         DeployCmd         `cmd:"" help:"Deploy the stack with the cdk toolkit"`
	Diff           DiffCmd           `cmd:"" help:"Show the cdk diff against the deployed stack"`
	Destroy        DestroyCmd        `cmd:"" help:"Tear the stack down with the cdk toolkit"`
	ProvisionLocal ProvisionLocalCmd `cmd:"" name:"provision-local" help:"Create buckets and tables on local S3/DynamoDB endpoints"`
	Manifest       ManifestCmd       `cmd:"" help:"Stack manifest maintenance helpers"`
}

type StackFlags struct {
	Config  string `name:"config" type:"path" help:"Path to a YAML stack config (defaults apply when omitted)"`
	Rollout string `name:"rollout" help:"Override the rollout: storage, table or full"`
}

type PlanCmd struct {
	StackFlags
	Format string `name:"format" enum:"yaml,table" default:"yaml" help:"Output format: yaml or table"`
}

type SynthCmd struct {
	StackFlags
	Output   string `name:"out" default:"cdk.out" help:"Cloud assembly output directory"`
	Assets   string `name:"assets" default:"." help:"Directory holding the layer and function sources"`
	Manifest string `name:"manifest" help:"Write the stack manifest to this path after synthesis"`
}

type ToolkitFlags struct {
	ProjectDir string `name:"project-dir" help:"Directory containing cdk.json (default: current directory)"`
	Profile    string `name:"profile" help:"AWS profile passed to the cdk toolkit"`
	Binary     string `name:"cdk" default:"cdk" help:"cdk toolkit executable"`
	Assets     string `name:"assets" help:"Directory holding the layer and function sources"`
	Verbose    bool   `short:"v" help:"Verbose output"`
}

type DeployCmd struct {
	StackFlags
	ToolkitFlags
	RequireApproval string `name:"require-approval" help:"Approval level for security-sensitive changes"`
	OutputsFile     string `name:"outputs-file" help:"Write stack outputs as JSON to this path"`
	Manifest        string `name:"manifest" help:"Refuse to deploy when this stack manifest has drifted from the declaration"`
}

type DiffCmd struct {
	StackFlags
	ToolkitFlags
}

type DestroyCmd struct {
	StackFlags
	ToolkitFlags
	Force bool `name:"force" help:"Do not ask for confirmation"`
}

type ProvisionLocalCmd struct {
	StackFlags
	S3Endpoint     string `name:"s3-endpoint" required:"" help:"S3-compatible endpoint URL"`
	DynamoEndpoint string `name:"dynamodb-endpoint" required:"" help:"DynamoDB endpoint URL"`
	Region         string `name:"region" help:"Region for the local clients (default: resolved deployment region)"`
}

type ManifestCmd struct {
	Verify ManifestVerifyCmd `cmd:"" name:"verify" help:"Compare a stored stack manifest with the current declaration"`
}

type ManifestVerifyCmd struct {
	StackFlags
	Manifest string `name:"manifest" required:"" help:"Path to the stack manifest"`
}

type kongExitCode int

type commandDeps struct {
	resolveIdentity func(defaultStackName string) (identity.DeploymentIdentity, error)
	synth           func(*stackgraph.Graph, cdkstack.Options) (string, error)
	runToolkit      func(ctx context.Context, workingDir string, req cdkdeploy.Request) error
	provisionLocal  func(ctx context.Context, graph *stackgraph.Graph, input ProvisionInput) (localprovision.Result, error)
	logger          *slog.Logger
	out             io.Writer
	errOut          io.Writer
}

type ProvisionInput struct {
	S3Endpoint     string
	DynamoEndpoint string
	Region         string
}

func main() {
	code := run(os.Args[1:], defaultDeps())
	jsii.Close()
	os.Exit(code)
}

func defaultDeps() commandDeps {
	return commandDeps{
		resolveIdentity: identity.Resolve,
		synth:           cdkstack.Synth,
		runToolkit:      executeToolkit,
		provisionLocal:  provisionLocal,
		logger:          logger.Init(),
		out:             os.Stdout,
		errOut:          os.Stderr,
	}
}

func run(args []string, deps commandDeps) (exitCode int) {
	out := deps.out
	if out == nil {
		out = os.Stdout
	}
	errOut := deps.errOut
	if errOut == nil {
		errOut = os.Stderr
	}
	cli := CLI{}
	parser, err := kong.New(
		&cli,
		kong.Name("stackctl"),
		kong.Description("Validate, synthesize and deploy the image labeling stack."),
		kong.Writers(out, errOut),
		kong.Exit(func(code int) {
			panic(kongExitCode(code))
		}),
	)
	if err != nil {
		_, _ = fmt.Fprintf(errOut, "Error: initialize command parser: %v\n", err)
		return 1
	}
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		code, ok := recovered.(kongExitCode)
		if !ok {
			panic(recovered)
		}
		exitCode = int(code)
	}()
	kctx, err := parser.Parse(args)
	if err != nil {
		_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
		_, _ = fmt.Fprintln(errOut, "Hint: run `stackctl --help` or `stackctl <command> --help`.")
		return 1
	}

	ctx := context.Background()
	command := kctx.Command()
	if cli.EnvFile != "" {
		if err := godotenv.Load(cli.EnvFile); err != nil {
			_, _ = fmt.Fprintf(errOut, "Error: load env file: %v\n", err)
			_, _ = fmt.Fprintln(errOut, "Hint: confirm `--env-file` points at a readable dotenv file.")
			return 1
		}
	}
	switch command {
	case "plan":
		err = runPlan(cli.Plan, deps, out)
	case "synth":
		err = runSynth(cli.Synth, deps, out)
	case "deploy":
		err = runDeploy(ctx, cli.Deploy, deps)
	case "diff":
		err = runToolkitAction(ctx, cdkdeploy.ActionDiff, cli.Diff.StackFlags, cli.Diff.ToolkitFlags, cdkdeploy.Request{}, deps)
	case "destroy":
		err = runToolkitAction(ctx, cdkdeploy.ActionDestroy, cli.Destroy.StackFlags, cli.Destroy.ToolkitFlags, cdkdeploy.Request{Force: cli.Destroy.Force}, deps)
	case "provision-local":
		err = runProvisionLocal(ctx, cli.ProvisionLocal, deps, out)
	case "manifest verify":
		err = runManifestVerify(cli.Manifest.Verify, deps, out)
	default:
		_, _ = fmt.Fprintf(errOut, "Error: unsupported command: %s\n", command)
		_, _ = fmt.Fprintln(errOut, "Hint: run `stackctl --help`.")
		return 1
	}
	if err != nil {
		_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
		_, _ = fmt.Fprintf(errOut, "Hint: %s\n", hintForError(command, err))
		return 1
	}
	return 0
}

func (d commandDeps) log() *slog.Logger {
	if d.logger != nil {
		return d.logger
	}
	return logger.Default()
}

// declare resolves the deployment identity and builds the validated graph.
// Config and rollout follow the same precedence as the CDK app.
func declare(flags StackFlags, deps commandDeps) (identity.DeploymentIdentity, *stackgraph.Graph, imagestack.Rollout, error) {
	resolve := deps.resolveIdentity
	if resolve == nil {
		resolve = identity.Resolve
	}
	id, err := resolve(imagestack.DefaultStackName)
	if err != nil {
		return identity.DeploymentIdentity{}, nil, "", fmt.Errorf("resolve deployment identity: %w", err)
	}

	settings := stacksettings.Resolve(flags.Config, flags.Rollout, "")
	graph, rollout, err := settings.Declare(id)
	if err != nil {
		return id, nil, "", err
	}
	deps.log().Debug("stack declared", "stack", id.StackName, "rollout", rollout, "rollout_source", settings.RolloutSource, "digest", graph.Digest())
	return id, graph, rollout, nil
}

func runPlan(cmd PlanCmd, deps commandDeps, out io.Writer) error {
	id, graph, rollout, err := declare(cmd.StackFlags, deps)
	if err != nil {
		return err
	}
	manifest := stackmanifest.FromGraph(id.StackName, string(rollout), graph)
	if cmd.Format == "table" {
		renderPlanTable(out, manifest)
		return nil
	}
	encoder := yaml.NewEncoder(out)
	encoder.SetIndent(2)
	if err := encoder.Encode(manifest); err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	return encoder.Close()
}

func renderPlanTable(out io.Writer, manifest stackmanifest.Manifest) {
	_, _ = fmt.Fprintf(out, "stack %s (rollout %s, digest %s)\n", manifest.Stack, manifest.Rollout, manifest.Digest[:12])
	resources := tablewriter.NewWriter(out)
	resources.SetHeader([]string{"#", "Resource", "Kind", "Depends on"})
	for i, res := range manifest.Resources {
		resources.Append([]string{fmt.Sprint(i + 1), res.ID, res.Kind, strings.Join(res.DependsOn, ", ")})
	}
	resources.Render()

	if len(manifest.Permissions) == 0 {
		return
	}
	grants := tablewriter.NewWriter(out)
	grants.SetHeader([]string{"Grantee", "Grant"})
	for _, perm := range manifest.Permissions {
		for _, grant := range perm.Grants {
			grants.Append([]string{perm.Grantee, grant})
		}
	}
	grants.Render()
}

func runSynth(cmd SynthCmd, deps commandDeps, out io.Writer) error {
	id, graph, rollout, err := declare(cmd.StackFlags, deps)
	if err != nil {
		return err
	}
	synth := deps.synth
	if synth == nil {
		synth = cdkstack.Synth
	}
	dir, err := synth(graph, cdkstack.Options{StackName: id.StackName, OutDir: cmd.Output, AssetRoot: cmd.Assets})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "synthesized %s to %s\n", id.StackName, dir)
	if cmd.Manifest == "" {
		return nil
	}

	manifest := stackmanifest.FromGraph(id.StackName, string(rollout), graph)
	manifest.Generator = stackmanifest.Generator{Name: generatorName, Version: version}
	sum, err := stackmanifest.TemplateSHA256(dir, id.StackName)
	if err != nil {
		return err
	}
	manifest.TemplateSHA256 = sum
	if err := stackmanifest.Write(cmd.Manifest, manifest); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "wrote stack manifest %s\n", cmd.Manifest)
	return nil
}

func runDeploy(ctx context.Context, cmd DeployCmd, deps commandDeps) error {
	if cmd.Manifest != "" {
		_, graph, _, err := declare(cmd.StackFlags, deps)
		if err != nil {
			return err
		}
		manifest, err := stackmanifest.Read(cmd.Manifest)
		if err != nil {
			return err
		}
		if err := stackmanifest.Verify(manifest, graph); err != nil {
			return err
		}
	}
	return runToolkitAction(ctx, cdkdeploy.ActionDeploy, cmd.StackFlags, cmd.ToolkitFlags, cdkdeploy.Request{
		RequireApproval: cmd.RequireApproval,
		OutputsFile:     cmd.OutputsFile,
	}, deps)
}

// runToolkitAction validates the declaration first so the toolkit never sees an invalid stack.
func runToolkitAction(ctx context.Context, action cdkdeploy.Action, stack StackFlags, toolkit ToolkitFlags, req cdkdeploy.Request, deps commandDeps) error {
	id, _, rollout, err := declare(stack, deps)
	if err != nil {
		return err
	}
	if err := exportAppSettings(stack, toolkit, rollout); err != nil {
		return err
	}

	workingDir := strings.TrimSpace(toolkit.ProjectDir)
	if workingDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		workingDir = cwd
	}
	req.Action = action
	req.Stacks = []string{id.StackName}
	req.Context = map[string]string{"rollout": string(rollout)}
	req.Profile = toolkit.Profile
	req.Binary = toolkit.Binary
	req.Verbose = toolkit.Verbose

	execute := deps.runToolkit
	if execute == nil {
		execute = executeToolkit
	}
	deps.log().Info("running cdk toolkit", "action", action, "stack", id.StackName, "dir", workingDir)
	return execute(ctx, workingDir, req)
}

// exportAppSettings hands the config, rollout and asset paths to the app the toolkit launches.
func exportAppSettings(stack StackFlags, toolkit ToolkitFlags, rollout imagestack.Rollout) error {
	if err := stacksettings.Resolve(stack.Config, "", "").Export(rollout); err != nil {
		return err
	}
	if toolkit.Assets != "" {
		abs, err := filepath.Abs(toolkit.Assets)
		if err != nil {
			return fmt.Errorf("resolve assets path: %w", err)
		}
		if err := envutil.SetCompatEnv("ASSETS", "", abs); err != nil {
			return err
		}
	}
	return nil
}

func runProvisionLocal(ctx context.Context, cmd ProvisionLocalCmd, deps commandDeps, out io.Writer) error {
	id, graph, _, err := declare(cmd.StackFlags, deps)
	if err != nil {
		return err
	}
	region := cmd.Region
	if region == "" {
		region = id.Region
	}
	provision := deps.provisionLocal
	if provision == nil {
		provision = provisionLocal
	}
	result, err := provision(ctx, graph, ProvisionInput{
		S3Endpoint:     cmd.S3Endpoint,
		DynamoEndpoint: cmd.DynamoEndpoint,
		Region:         region,
	})
	if err != nil {
		return fmt.Errorf("provision local resources: %w", err)
	}
	_, _ = fmt.Fprintf(out, "local provision complete: created=%d existing=%d\n", len(result.Created), len(result.Existed))
	return nil
}

func runManifestVerify(cmd ManifestVerifyCmd, deps commandDeps, out io.Writer) error {
	_, graph, _, err := declare(cmd.StackFlags, deps)
	if err != nil {
		return err
	}
	manifest, err := stackmanifest.Read(cmd.Manifest)
	if err != nil {
		return err
	}
	if err := stackmanifest.Verify(manifest, graph); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "stack manifest %s matches the declaration\n", cmd.Manifest)
	return nil
}

func executeToolkit(ctx context.Context, workingDir string, req cdkdeploy.Request) error {
	return cdkdeploy.Execute(ctx, osToolkitRunner{}, workingDir, req)
}

func provisionLocal(ctx context.Context, graph *stackgraph.Graph, input ProvisionInput) (localprovision.Result, error) {
	factory := localprovision.NewClientFactory(input.Region, localCredentials("DYNAMODB", "dummy"), localCredentials("S3", "minioadmin"))
	provisioner, err := localprovision.New(ctx, factory, input.S3Endpoint, input.DynamoEndpoint, input.Region, logger.Default())
	if err != nil {
		return localprovision.Result{}, err
	}
	return provisioner.Apply(ctx, graph)
}

// localCredentials reads CAPTION_<service>_ACCESS_KEY and CAPTION_<service>_SECRET_KEY.
func localCredentials(service, fallback string) localprovision.Credentials {
	creds := localprovision.Credentials{
		AccessKey: envutil.Get(service + "_ACCESS_KEY"),
		SecretKey: envutil.Get(service + "_SECRET_KEY"),
	}
	if creds.AccessKey == "" {
		creds.AccessKey = fallback
	}
	if creds.SecretKey == "" {
		creds.SecretKey = fallback
	}
	return creds
}

type osToolkitRunner struct{}

func (osToolkitRunner) Run(ctx context.Context, cwd, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = cwd
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func (osToolkitRunner) RunQuiet(ctx context.Context, cwd, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = cwd
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func hintForError(command string, err error) string {
	var missingFile stackmanifest.MissingFileError
	var drift stackmanifest.DriftError

	switch {
	case len(stackgraph.DeclarationErrors(err)) > 0:
		return "fix the listed declarations in the stack config, then run `stackctl plan`."
	case errors.As(err, &drift):
		return "run `stackctl synth --manifest <path>` to record the current declaration, or revert the config change."
	case errors.As(err, &missingFile):
		return "confirm `--manifest` and the cloud assembly paths exist and are readable."
	case errors.Is(err, exec.ErrNotFound):
		return "install the cdk toolkit (`npm install -g aws-cdk`) or point `--cdk` at it."
	default:
		return fmt.Sprintf("run `stackctl %s --help` for required arguments.", command)
	}
}
