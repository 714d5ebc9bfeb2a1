// Package diff computes human readable configuration differences for reload logs.
package diff

import (
	"fmt"
	"slices"
	"strings"

	"github.com/router-for-me/codexgate/internal/config"
)

// BuildConfigChangeDetails lists the fields that differ between oldCfg and newCfg.
// Secrets are reported as changed without their values.
func BuildConfigChangeDetails(oldCfg, newCfg *config.Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	changes := make([]string, 0, 16)
	add := func(field string, oldValue, newValue any) {
		if fmt.Sprint(oldValue) != fmt.Sprint(newValue) {
			changes = append(changes, fmt.Sprintf("%s: %v -> %v", field, oldValue, newValue))
		}
	}
	addSecret := func(field, oldValue, newValue string) {
		if oldValue != newValue {
			changes = append(changes, fmt.Sprintf("%s: %s -> %s", field, describeSecret(oldValue), describeSecret(newValue)))
		}
	}

	add("host", oldCfg.Host, newCfg.Host)
	add("port", oldCfg.Port, newCfg.Port)
	add("auth-dir", oldCfg.AuthDir, newCfg.AuthDir)
	add("debug", oldCfg.Debug, newCfg.Debug)
	add("logging-to-file", oldCfg.LoggingToFile, newCfg.LoggingToFile)
	add("request-log", oldCfg.RequestLog, newCfg.RequestLog)
	add("proxy-url", oldCfg.ProxyURL, newCfg.ProxyURL)
	addSecret("management-key", oldCfg.ManagementKey, newCfg.ManagementKey)
	add("remote-management.allow-remote", oldCfg.RemoteManagement.AllowRemote, newCfg.RemoteManagement.AllowRemote)

	add("store.type", oldCfg.Store.Type, newCfg.Store.Type)
	addSecret("store.postgres.dsn", oldCfg.Store.Postgres.DSN, newCfg.Store.Postgres.DSN)
	add("store.object.endpoint", oldCfg.Store.Object.Endpoint, newCfg.Store.Object.Endpoint)
	add("store.object.bucket", oldCfg.Store.Object.Bucket, newCfg.Store.Object.Bucket)

	add("oauth.issuer", oldCfg.OAuth.Issuer, newCfg.OAuth.Issuer)
	add("oauth.callback-port", oldCfg.OAuth.CallbackPort, newCfg.OAuth.CallbackPort)
	add("oauth.timeout", oldCfg.OAuth.Timeout, newCfg.OAuth.Timeout)
	add("oauth.refresh-lead", oldCfg.OAuth.RefreshLead, newCfg.OAuth.RefreshLead)

	add("gateway.endpoint", oldCfg.Gateway.Endpoint, newCfg.Gateway.Endpoint)
	if !slices.Equal(oldCfg.Gateway.FallbackModels, newCfg.Gateway.FallbackModels) {
		changes = append(changes, fmt.Sprintf("gateway.fallback-models: [%s] -> [%s]",
			strings.Join(oldCfg.Gateway.FallbackModels, ", "), strings.Join(newCfg.Gateway.FallbackModels, ", ")))
	}
	add("gateway.max-attempts", oldCfg.Gateway.MaxAttempts, newCfg.Gateway.MaxAttempts)
	add("gateway.request-timeout", oldCfg.Gateway.RequestTimeout, newCfg.Gateway.RequestTimeout)
	if oldCfg.Gateway.Instructions != newCfg.Gateway.Instructions {
		changes = append(changes, "gateway.instructions: updated")
	}
	return changes
}

// RestartRequiredChanges names the changed fields that only take effect after a
// restart: listeners, credential storage and the issuer.
func RestartRequiredChanges(oldCfg, newCfg *config.Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var fields []string
	if oldCfg.Host != newCfg.Host || oldCfg.Port != newCfg.Port {
		fields = append(fields, "listen address")
	}
	if oldCfg.Store != newCfg.Store || oldCfg.AuthDir != newCfg.AuthDir {
		fields = append(fields, "credential store")
	}
	if oldCfg.OAuth.Issuer != newCfg.OAuth.Issuer || oldCfg.OAuth.CallbackPort != newCfg.OAuth.CallbackPort {
		fields = append(fields, "oauth issuer or callback port")
	}
	if oldCfg.LoggingToFile != newCfg.LoggingToFile {
		fields = append(fields, "logging-to-file")
	}
	return fields
}

func describeSecret(value string) string {
	if strings.TrimSpace(value) == "" {
		return "<unset>"
	}
	return "<set>"
}
