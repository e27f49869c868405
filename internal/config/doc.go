// Package config loads the flowforge daemon configuration: server, storage,
// queue, chain access, secrets, alerting, auth and the workflow catalogue.
// Workflow params stay raw JSON until a workflow decodes them, and
// MergeOverride layers trigger overrides on top.
package config
