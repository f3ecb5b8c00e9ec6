package cdkdeploy

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

type recordRunner struct {
	runCalls      int
	runQuietCalls int
	names         []string
	cwds          []string
	args          [][]string
}

func (r *recordRunner) Run(_ context.Context, cwd, name string, args ...string) error {
	r.runCalls++
	r.record(cwd, name, args)
	return nil
}

func (r *recordRunner) RunQuiet(_ context.Context, cwd, name string, args ...string) error {
	r.runQuietCalls++
	r.record(cwd, name, args)
	return nil
}

func (r *recordRunner) record(cwd, name string, args []string) {
	r.cwds = append(r.cwds, cwd)
	r.names = append(r.names, name)
	r.args = append(r.args, append([]string(nil), args...))
}

var errToolkit = errors.New("stack AiCaptionCraftStack failed: UPDATE_ROLLBACK_COMPLETE")

type failRunner struct{}

func (failRunner) Run(_ context.Context, _, _ string, _ ...string) error {
	return errToolkit
}

func (failRunner) RunQuiet(_ context.Context, _, _ string, _ ...string) error {
	return errToolkit
}

func TestBuildArgsDeploy(t *testing.T) {
	got, err := buildArgs(Request{
		Action:          ActionDeploy,
		App:             "go run ./cmd/caption-craft",
		Stacks:          []string{"AiCaptionCraftStack", " "},
		OutputDir:       "cdk.out",
		Context:         map[string]string{"rollout": "full", "config": "stack.yml"},
		RequireApproval: "never",
		OutputsFile:     "outputs.json",
		Profile:         "dev",
	})
	if err != nil {
		t.Fatalf("buildArgs() error = %v", err)
	}
	want := []string{
		"--app",
		"go run ./cmd/caption-craft",
		"--output",
		"cdk.out",
		"--context",
		"config=stack.yml",
		"--context",
		"rollout=full",
		"--profile",
		"dev",
		"deploy",
		"AiCaptionCraftStack",
		"--require-approval",
		"never",
		"--outputs-file",
		"outputs.json",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("buildArgs() = %#v, want %#v", got, want)
	}
}

func TestBuildArgsSynthIsQuietUnlessVerbose(t *testing.T) {
	got, err := buildArgs(Request{Action: ActionSynth})
	if err != nil {
		t.Fatalf("buildArgs() error = %v", err)
	}
	if want := []string{"synth", "--quiet"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("buildArgs() = %#v, want %#v", got, want)
	}

	got, err = buildArgs(Request{Action: ActionSynth, Verbose: true})
	if err != nil {
		t.Fatalf("buildArgs() error = %v", err)
	}
	if want := []string{"--verbose", "synth"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("buildArgs() = %#v, want %#v", got, want)
	}
}

func TestBuildArgsDestroyForce(t *testing.T) {
	got, err := buildArgs(Request{Action: ActionDestroy, Stacks: []string{"AiCaptionCraftStack"}, Force: true})
	if err != nil {
		t.Fatalf("buildArgs() error = %v", err)
	}
	want := []string{"destroy", "AiCaptionCraftStack", "--force"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("buildArgs() = %#v, want %#v", got, want)
	}
}

func TestBuildArgsRejectsUnknownAction(t *testing.T) {
	_, err := buildArgs(Request{Action: "bootstrap"})
	if !errors.Is(err, ErrUnsupportedAction) {
		t.Fatalf("expected ErrUnsupportedAction, got %v", err)
	}
}

func TestBuildArgsRejectsUnknownApproval(t *testing.T) {
	_, err := buildArgs(Request{Action: ActionDeploy, RequireApproval: "sometimes"})
	if err == nil || !strings.Contains(err.Error(), "require approval") {
		t.Fatalf("expected approval error, got %v", err)
	}
}

func TestExecuteUsesRunWhenVerbose(t *testing.T) {
	runner := &recordRunner{}
	err := Execute(context.Background(), runner, "/tmp", Request{Action: ActionDiff, Verbose: true})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if runner.runCalls != 1 || runner.runQuietCalls != 0 {
		t.Fatalf("unexpected run counts: run=%d quiet=%d", runner.runCalls, runner.runQuietCalls)
	}
}

func TestExecuteUsesRunQuietByDefault(t *testing.T) {
	runner := &recordRunner{}
	err := Execute(context.Background(), runner, "/work", Request{Action: ActionDeploy})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if runner.runCalls != 0 || runner.runQuietCalls != 1 {
		t.Fatalf("unexpected run counts: run=%d quiet=%d", runner.runCalls, runner.runQuietCalls)
	}
	if runner.names[0] != "cdk" || runner.cwds[0] != "/work" {
		t.Fatalf("unexpected invocation: name=%q cwd=%q", runner.names[0], runner.cwds[0])
	}
}

func TestExecuteUsesConfiguredBinary(t *testing.T) {
	runner := &recordRunner{}
	err := Execute(context.Background(), runner, "/work", Request{Action: ActionSynth, Binary: "npx"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if runner.names[0] != "npx" {
		t.Fatalf("binary = %q", runner.names[0])
	}
}

func TestExecuteKeepsToolkitError(t *testing.T) {
	err := Execute(context.Background(), failRunner{}, "/tmp", Request{Action: ActionDeploy})
	if err == nil || !strings.Contains(err.Error(), "run cdk deploy") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if !errors.Is(err, errToolkit) {
		t.Fatalf("toolkit error lost: %v", err)
	}
}

func TestExecuteRequiresRunner(t *testing.T) {
	err := Execute(context.Background(), nil, "/tmp", Request{Action: ActionDeploy})
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Fatalf("expected runner error, got %v", err)
	}
}

func TestExecuteDoesNotRunInvalidRequest(t *testing.T) {
	runner := &recordRunner{}
	err := Execute(context.Background(), runner, "/tmp", Request{Action: "bootstrap"})
	if err == nil {
		t.Fatal("expected error")
	}
	if runner.runCalls+runner.runQuietCalls != 0 {
		t.Fatal("runner must not be invoked")
	}
}
