package template

import (
	"time"

	"github.com/qatrail/qatrail/model"
)

// DefaultTemplates returns the built-in step sequences shipped with the
// service: one guided workflow per standard ticket type. Deployments that
// author their own template files can disable seeding in config.
func DefaultTemplates() []model.WorkflowTemplate {
	now := time.Now().UTC()
	return []model.WorkflowTemplate{
		{
			ID:          "bug-fix",
			Name:        "Bug Fix Workflow",
			Description: "Guided workflow for testing bug fixes. Covers reproduction, investigation, fix verification, and regression testing.",
			Category:    model.CategoryBug,
			IsDefault:   true,
			CreatedAt:   now,
			Steps: []model.StepSpec{
				{
					Name:             "Reproduce Bug",
					Description:      "Follow the steps in the ticket to reproduce the bug. Document exact steps, environment, and any variations observed.",
					EstimatedSeconds: 15 * 60,
				},
				{
					Name:             "Investigate Root Cause",
					Description:      "Analyze logs, code, and related components to identify the root cause. Note any related issues or dependencies.",
					EstimatedSeconds: 20 * 60,
				},
				{
					Name:             "Test Fix",
					Description:      "Verify the fix resolves the original issue. Test with the same steps used to reproduce, plus variations.",
					EstimatedSeconds: 30 * 60,
				},
				{
					Name:             "Regression Check",
					Description:      "Ensure the fix doesn't break existing functionality. Run related test cases and check impacted areas.",
					EstimatedSeconds: 20 * 60,
				},
				{
					Name:             "Document Findings",
					Description:      "Update the ticket with test results, any issues found, and recommendations. Link related test cases.",
					EstimatedSeconds: 10 * 60,
				},
			},
		},
		{
			ID:          "feature-test",
			Name:        "Feature Test Workflow",
			Description: "Guided workflow for testing new features, from requirements review through documented test cases.",
			Category:    model.CategoryFeature,
			IsDefault:   true,
			CreatedAt:   now,
			Steps: []model.StepSpec{
				{
					Name:             "Review Requirements",
					Description:      "Read the feature requirements, acceptance criteria, and design documents. Identify testable scenarios.",
					EstimatedSeconds: 15 * 60,
				},
				{
					Name:             "Exploratory Testing",
					Description:      "Explore the feature freely to understand its behavior. Note unexpected behaviors and potential edge cases.",
					EstimatedSeconds: 45 * 60,
				},
				{
					Name:             "Happy Path Testing",
					Description:      "Test the main user flows with valid inputs. Verify all acceptance criteria are met.",
					EstimatedSeconds: 30 * 60,
				},
				{
					Name:             "Edge Case Testing",
					Description:      "Test boundary conditions, invalid inputs, error handling, and unusual scenarios.",
					EstimatedSeconds: 30 * 60,
				},
				{
					Name:             "Document Test Cases",
					Description:      "Record test cases executed, results, and any bugs found. Update test documentation.",
					EstimatedSeconds: 15 * 60,
				},
			},
		},
		{
			ID:          "regression-test",
			Name:        "Regression Test Workflow",
			Description: "Guided workflow for regression runs: environment setup, suite execution, failure analysis, and reporting.",
			Category:    model.CategoryRegression,
			IsDefault:   true,
			CreatedAt:   now,
			Steps: []model.StepSpec{
				{
					Name:             "Setup Test Environment",
					Description:      "Prepare the test environment with correct version, data, and configurations. Verify environment health.",
					EstimatedSeconds: 20 * 60,
				},
				{
					Name:             "Run Test Suite",
					Description:      "Execute the regression test suite. Monitor for failures and performance issues.",
					EstimatedSeconds: 60 * 60,
				},
				{
					Name:             "Analyze Failures",
					Description:      "Investigate any test failures. Determine if failures are bugs, test issues, or environment problems.",
					EstimatedSeconds: 30 * 60,
				},
				{
					Name:             "Generate Report",
					Description:      "Create a summary report with pass/fail rates, identified issues, and recommendations.",
					EstimatedSeconds: 15 * 60,
				},
			},
		},
	}
}
