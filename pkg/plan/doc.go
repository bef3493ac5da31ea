// Package plan turns one free-text request into an ordered list of
// {action, verify} steps and runs them against the browser session.
//
// The planner output is validated as a whole before anything runs. Steps
// then execute strictly in order: an action that fails aborts the plan,
// while a verification that fails is recorded and the plan continues.
package plan
