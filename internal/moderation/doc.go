// Package moderation scores listing submissions for spam and describes the
// signals the guards emit towards the human moderation workflow. Scoring is
// rule based and stateless; every rule adds a fixed weight and the total is
// clamped to [0,100].
package moderation
