// Where: internal/envutil/envutil_test.go
// What: Tests for canonical, prefixed and fallback environment lookups.
// Why: The CDK toolchain and our own tooling name the same settings differently.
package envutil

import (
	"os"
	"testing"
)

func TestGetCompatEnvPrefersCanonical(t *testing.T) {
	t.Setenv("ENV_PREFIX", "")
	t.Setenv("CDK_DEFAULT_REGION", "eu-west-1")
	t.Setenv("CAPTION_REGION", "us-east-1")

	value, source := GetCompatEnv("REGION", "CDK_DEFAULT_REGION", "AWS_REGION")
	if value != "eu-west-1" || source != "CDK_DEFAULT_REGION" {
		t.Fatalf("got value=%q source=%q", value, source)
	}
}

func TestGetCompatEnvFallsBackToPrefixed(t *testing.T) {
	t.Setenv("ENV_PREFIX", "")
	t.Setenv("CDK_DEFAULT_REGION", "")
	t.Setenv("CAPTION_REGION", "us-east-1")
	t.Setenv("AWS_REGION", "ap-south-1")

	value, source := GetCompatEnv("REGION", "CDK_DEFAULT_REGION", "AWS_REGION")
	if value != "us-east-1" || source != "CAPTION_REGION" {
		t.Fatalf("got value=%q source=%q", value, source)
	}
}

func TestGetCompatEnvUsesFallbacksInOrder(t *testing.T) {
	t.Setenv("ENV_PREFIX", "")
	t.Setenv("CDK_DEFAULT_REGION", "")
	t.Setenv("CAPTION_REGION", "")
	t.Setenv("AWS_REGION", "")
	t.Setenv("AWS_DEFAULT_REGION", "ap-south-1")

	value, source := GetCompatEnv("REGION", "CDK_DEFAULT_REGION", "AWS_REGION", "AWS_DEFAULT_REGION")
	if value != "ap-south-1" || source != "AWS_DEFAULT_REGION" {
		t.Fatalf("got value=%q source=%q", value, source)
	}
}

func TestGetCompatEnvHonorsCustomPrefix(t *testing.T) {
	t.Setenv("ENV_PREFIX", "labels")
	t.Setenv("LABELS_LOG_LEVEL", "debug")

	value, source := GetCompatEnv("LOG_LEVEL", "")
	if value != "debug" || source != "LABELS_LOG_LEVEL" {
		t.Fatalf("got value=%q source=%q", value, source)
	}
}

func TestSetCompatEnvWritesCanonicalAndPrefixed(t *testing.T) {
	t.Setenv("ENV_PREFIX", "APP")
	t.Setenv("STACK", "")
	t.Setenv("APP_STACK", "")

	if err := SetCompatEnv("STACK", "STACK", "v9"); err != nil {
		t.Fatalf("SetCompatEnv: %v", err)
	}
	if got := os.Getenv("STACK"); got != "v9" {
		t.Fatalf("STACK=%q", got)
	}
	if got := os.Getenv("APP_STACK"); got != "v9" {
		t.Fatalf("APP_STACK=%q", got)
	}
}

func TestSetCompatEnvFailsWithoutTargets(t *testing.T) {
	if err := SetCompatEnv("", "", "x"); err == nil {
		t.Fatal("expected error")
	}
}
