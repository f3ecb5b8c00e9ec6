package cdkdeploy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrUnsupportedAction = errors.New("unsupported cdk action")

type Runner interface {
	Run(ctx context.Context, cwd, name string, args ...string) error
	RunQuiet(ctx context.Context, cwd, name string, args ...string) error
}

type Action string

const (
	ActionSynth   Action = "synth"
	ActionDiff    Action = "diff"
	ActionDeploy  Action = "deploy"
	ActionDestroy Action = "destroy"
)

type Request struct {
	Action Action
	// App overrides the app command from cdk.json.
	App             string
	Stacks          []string
	OutputDir       string
	Context         map[string]string
	RequireApproval string
	OutputsFile     string
	Profile         string
	Force           bool
	Verbose         bool
	// Binary defaults to "cdk".
	Binary string
}

// Execute runs one cdk toolkit action. Toolkit failures are returned wrapped, never swallowed.
func Execute(ctx context.Context, runner Runner, workingDir string, req Request) error {
	if runner == nil {
		return fmt.Errorf("cdk runner is not configured")
	}
	args, err := buildArgs(req)
	if err != nil {
		return err
	}
	binary := strings.TrimSpace(req.Binary)
	if binary == "" {
		binary = "cdk"
	}
	if req.Verbose {
		if err := runner.Run(ctx, workingDir, binary, args...); err != nil {
			return fmt.Errorf("run cdk %s: %w", req.Action, err)
		}
		return nil
	}
	if err := runner.RunQuiet(ctx, workingDir, binary, args...); err != nil {
		return fmt.Errorf("run cdk %s: %w", req.Action, err)
	}
	return nil
}

func buildArgs(req Request) ([]string, error) {
	switch req.Action {
	case ActionSynth, ActionDiff, ActionDeploy, ActionDestroy:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAction, req.Action)
	}

	var args []string
	if app := strings.TrimSpace(req.App); app != "" {
		args = append(args, "--app", app)
	}
	if out := strings.TrimSpace(req.OutputDir); out != "" {
		args = append(args, "--output", out)
	}
	keys := make([]string, 0, len(req.Context))
	for key := range req.Context {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		args = append(args, "--context", key+"="+req.Context[key])
	}
	if profile := strings.TrimSpace(req.Profile); profile != "" {
		args = append(args, "--profile", profile)
	}
	if req.Verbose {
		args = append(args, "--verbose")
	}

	args = append(args, string(req.Action))
	for _, stack := range req.Stacks {
		if normalized := strings.TrimSpace(stack); normalized != "" {
			args = append(args, normalized)
		}
	}

	switch req.Action {
	case ActionSynth:
		if !req.Verbose {
			args = append(args, "--quiet")
		}
	case ActionDeploy:
		approval := strings.TrimSpace(req.RequireApproval)
		if approval != "" {
			switch approval {
			case "never", "any-change", "broadening":
			default:
				return nil, fmt.Errorf("require approval %q is not one of never, any-change, broadening", approval)
			}
			args = append(args, "--require-approval", approval)
		}
		if outputs := strings.TrimSpace(req.OutputsFile); outputs != "" {
			args = append(args, "--outputs-file", outputs)
		}
	case ActionDestroy:
		if req.Force {
			args = append(args, "--force")
		}
	}
	return args, nil
}
