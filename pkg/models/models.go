// Package models re-exports core types for external use.
package models

import "firestige.xyz/floodgate/internal/core"

// Re-export event types for out-of-tree sources and classifiers
type (
	Source        = core.Source
	FeatureVector = core.FeatureVector
	Label         = core.Label
	Event         = core.Event
	Decision      = core.Decision
	Action        = core.Action
)

// Classifier verdicts.
const (
	Normal = core.Normal
	Attack = core.Attack
)

// NumFeatures is the length of a FeatureVector.
const NumFeatures = core.NumFeatures

// FeatureNames lists channel names in vector order.
var FeatureNames = core.FeatureNames
