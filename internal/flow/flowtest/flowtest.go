// Package flowtest provides flow fixtures shared by package tests.
package flowtest

import "github.com/wolfman30/medspa-nurture/internal/flow"

// Consultation returns a three-step qualification flow:
// greet -> qualify -> book, with drips on the first two steps.
func Consultation(orgID string) *flow.Definition {
	return &flow.Definition{
		ID:    "consultation",
		OrgID: orgID,
		Name:  "Botox consultation",
		Steps: []flow.Step{
			{
				ID:              "greet",
				OutboundMessage: "Hi {{.FirstName}}! Are you still interested in a consultation?",
				Responses: []flow.ResponseBranch{
					{Label: "Interested", FollowUpMessage: "Great!", NextStepID: "qualify", Action: flow.ActionContinue},
					{Label: "Not now", FollowUpMessage: "No problem, we'll be here.", Action: flow.ActionEnd},
					{Label: "Question", FollowUpMessage: "Happy to help.", Action: flow.ActionContinue},
				},
				DripSequence: []flow.DripMessage{
					{Message: "ping", DelayHours: 2},
					{Message: "ping2", DelayHours: 24},
				},
				Tag: &flow.StepTag{Label: "Greeted", Color: "#4caf50"},
			},
			{
				ID:              "qualify",
				OutboundMessage: "Which treatment are you considering?",
				Responses: []flow.ResponseBranch{
					{Label: "Qualified", FollowUpMessage: "Let's get you booked.", NextStepID: "book", Action: flow.ActionContinue},
					{Label: "Unsure", FollowUpMessage: "Take your time.", Action: flow.ActionContinue},
				},
				DripSequence: []flow.DripMessage{
					{Message: "Still deciding? We can help.", DelayHours: 4},
				},
			},
			{
				ID:              "book",
				OutboundMessage: "What day works best for you?",
				Responses: []flow.ResponseBranch{
					{Label: "Booked", FollowUpMessage: "You're all set!", Action: flow.ActionEnd},
					{Label: "Later", FollowUpMessage: "Sure, let's revisit.", NextStepID: "qualify", Action: flow.ActionContinue},
				},
			},
		},
		RequiredQuestions: []flow.RequiredQuestion{
			{Question: "What's your name?", FieldKey: "first_name"},
			{Question: "Which service?", FieldKey: "service"},
			{Question: "Preferred day?", FieldKey: "preferred_day"},
		},
		RequiresHumanFollowUp: true,
	}
}
