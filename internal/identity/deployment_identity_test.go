package identity

import (
	"strings"
	"testing"
)

func TestResolveFrom(t *testing.T) {
	tests := []struct {
		name      string
		account   string
		region    string
		stackName string
		wantStack string
		wantErr   string
	}{
		{
			name:      "explicit context",
			account:   "123456789012",
			region:    "EU-West-1",
			stackName: "AiCaptionCraftStack",
			wantStack: "AiCaptionCraftStack",
		},
		{
			name:      "environment agnostic",
			stackName: "AiCaptionCraftStack",
			wantStack: "AiCaptionCraftStack",
		},
		{
			name:      "stack name normalized",
			stackName: "  9captions_dev stack ",
			wantStack: "captions-dev-stack",
		},
		{
			name:      "gov region",
			region:    "us-gov-west-1",
			stackName: "S",
			wantStack: "S",
		},
		{
			name:      "short account",
			account:   "1234",
			stackName: "S",
			wantErr:   "must be 12 digits",
		},
		{
			name:      "bad region",
			region:    "mars",
			stackName: "S",
			wantErr:   "not a valid region",
		},
		{
			name:      "unusable stack name",
			stackName: "123",
			wantErr:   "stack name is not resolvable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveFrom(tt.account, "test", tt.region, "test", tt.stackName)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveFrom() error = %v", err)
			}
			if got.StackName != tt.wantStack {
				t.Fatalf("stack = %q, want %q", got.StackName, tt.wantStack)
			}
			if got.Region != strings.ToLower(tt.region) {
				t.Fatalf("region = %q", got.Region)
			}
		})
	}
}

func TestResolveReadsToolchainEnvironment(t *testing.T) {
	t.Setenv("ENV_PREFIX", "")
	t.Setenv(EnvDefaultAccount, "123456789012")
	t.Setenv(EnvDefaultRegion, "")
	t.Setenv("CAPTION_REGION", "")
	t.Setenv(EnvAWSRegion, "eu-central-1")
	t.Setenv("CAPTION_STACK_NAME", "")

	got, err := Resolve("AiCaptionCraftStack")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.AccountSource != EnvDefaultAccount || got.RegionSource != EnvAWSRegion {
		t.Fatalf("sources = %q/%q", got.AccountSource, got.RegionSource)
	}
	ctx := got.Context()
	if ctx.Account != "123456789012" || ctx.Region != "eu-central-1" {
		t.Fatalf("context = %+v", ctx)
	}
	if got.StackName != "AiCaptionCraftStack" || got.EnvironmentAgnostic() {
		t.Fatalf("unexpected identity: %+v", got)
	}
}

func TestResolveStackNameOverride(t *testing.T) {
	t.Setenv("ENV_PREFIX", "")
	t.Setenv(EnvDefaultAccount, "")
	t.Setenv("CAPTION_ACCOUNT", "")
	t.Setenv(EnvDefaultRegion, "")
	t.Setenv("CAPTION_REGION", "")
	t.Setenv(EnvAWSRegion, "")
	t.Setenv(EnvAWSDefRegion, "")
	t.Setenv("CAPTION_STACK_NAME", "CaptionsDev")

	got, err := Resolve("AiCaptionCraftStack")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.StackName != "CaptionsDev" || !got.EnvironmentAgnostic() {
		t.Fatalf("unexpected identity: %+v", got)
	}
}

func TestNormalizeStackNameTruncates(t *testing.T) {
	got := NormalizeStackName(strings.Repeat("a", 200))
	if len(got) != maxStackNameLength {
		t.Fatalf("len = %d", len(got))
	}
}
