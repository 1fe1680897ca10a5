package e2e

import (
	"github.com/cucumber/godog"

	"grantd/e2e/steps/auth"
	"grantd/e2e/steps/common"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Register common steps (background, generic requests, assertions)
	common.RegisterSteps(ctx, tc)

	// Register grant flow steps
	auth.RegisterSteps(ctx, tc)
}
