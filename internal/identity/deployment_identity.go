// Where: internal/identity/deployment_identity.go
// What: Deployment identity resolution from the CDK toolchain and local environment.
// Why: Stack account, region and name must come from one place for the app and the CLI.
package identity

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jedrekdomanski/ai-caption-craft/internal/envutil"
	"github.com/jedrekdomanski/ai-caption-craft/pkg/stackgraph"
)

const (
	EnvDefaultAccount = "CDK_DEFAULT_ACCOUNT"
	EnvDefaultRegion  = "CDK_DEFAULT_REGION"
	EnvAWSRegion      = "AWS_REGION"
	EnvAWSDefRegion   = "AWS_DEFAULT_REGION"

	SuffixAccount   = "ACCOUNT"
	SuffixRegion    = "REGION"
	SuffixStackName = "STACK_NAME"

	maxStackNameLength = 128
)

var (
	accountPattern = regexp.MustCompile(`^[0-9]{12}$`)
	regionPattern  = regexp.MustCompile(`^[a-z]{2}(-gov|-iso[a-z]*)?-[a-z]+-[0-9]+$`)
)

// DeploymentIdentity says where a stack goes and which variable each value came from.
// Empty Account and Region leave the stack environment-agnostic.
type DeploymentIdentity struct {
	Account       string
	AccountSource string
	Region        string
	RegionSource  string
	StackName     string
}

// Resolve reads the identity from the process environment.
func Resolve(defaultStackName string) (DeploymentIdentity, error) {
	account, accountSource := envutil.GetCompatEnv(SuffixAccount, EnvDefaultAccount)
	region, regionSource := envutil.GetCompatEnv(SuffixRegion, EnvDefaultRegion, EnvAWSRegion, EnvAWSDefRegion)
	stackName := envutil.Get(SuffixStackName)
	if stackName == "" {
		stackName = defaultStackName
	}
	return ResolveFrom(account, accountSource, region, regionSource, stackName)
}

func ResolveFrom(account, accountSource, region, regionSource, stackName string) (DeploymentIdentity, error) {
	id := DeploymentIdentity{
		Account:       strings.TrimSpace(account),
		AccountSource: accountSource,
		Region:        strings.ToLower(strings.TrimSpace(region)),
		RegionSource:  regionSource,
		StackName:     NormalizeStackName(stackName),
	}
	if id.Account != "" && !accountPattern.MatchString(id.Account) {
		return DeploymentIdentity{}, fmt.Errorf("account %q from %s must be 12 digits", id.Account, sourceName(accountSource))
	}
	if id.Region != "" && !regionPattern.MatchString(id.Region) {
		return DeploymentIdentity{}, fmt.Errorf("region %q from %s is not a valid region name", id.Region, sourceName(regionSource))
	}
	if id.StackName == "" {
		return DeploymentIdentity{}, fmt.Errorf(
			"stack name is not resolvable: set %s or pass a name starting with a letter",
			envutil.PrefixedKey(SuffixStackName),
		)
	}
	return id, nil
}

func (id DeploymentIdentity) Context() stackgraph.DeploymentContext {
	return stackgraph.DeploymentContext{Account: id.Account, Region: id.Region}
}

// EnvironmentAgnostic reports whether the stack carries no account or region.
func (id DeploymentIdentity) EnvironmentAgnostic() bool {
	return id.Account == "" && id.Region == ""
}

func sourceName(source string) string {
	if source == "" {
		return "input"
	}
	return source
}

// NormalizeStackName keeps letters, digits and hyphens, collapses other runs into one hyphen,
// and drops leading characters until the name starts with a letter.
func NormalizeStackName(value string) string {
	trimmed := strings.TrimSpace(value)
	var b strings.Builder
	lastDash := false
	for _, r := range trimmed {
		isLetter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		isDigit := r >= '0' && r <= '9'
		if b.Len() == 0 && !isLetter {
			continue
		}
		if isLetter || isDigit {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	name := strings.TrimRight(b.String(), "-")
	if len(name) > maxStackNameLength {
		name = strings.TrimRight(name[:maxStackNameLength], "-")
	}
	return name
}
