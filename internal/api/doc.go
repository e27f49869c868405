// Package api exposes the HTTP trigger surface: queue workflow runs, inspect
// invocations and list the registered workflows.
package api
