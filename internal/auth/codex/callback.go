package codex

import (
	"fmt"
	"net/url"
	"strings"
)

// CallbackParams are the query parameters of the issuer redirect.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// CallbackParamsFromQuery reads the redirect parameters from a query string.
func CallbackParamsFromQuery(query url.Values) CallbackParams {
	return CallbackParams{
		Code:             strings.TrimSpace(query.Get("code")),
		State:            strings.TrimSpace(query.Get("state")),
		Error:            strings.TrimSpace(query.Get("error")),
		ErrorDescription: strings.TrimSpace(query.Get("error_description")),
	}
}

// ParseRedirectURL extracts redirect parameters from a pasted callback URL. It accepts
// full URLs, bare "host/path?query" forms and raw query strings, and falls back to the
// fragment when the query carries nothing.
func ParseRedirectURL(input string) (CallbackParams, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return CallbackParams{}, fmt.Errorf("callback URL is empty")
	}

	candidate := trimmed
	if !strings.Contains(candidate, "://") {
		switch {
		case strings.HasPrefix(candidate, "?"):
			candidate = "http://localhost" + candidate
		case strings.ContainsAny(candidate, "/?#") || strings.Contains(candidate, ":"):
			candidate = "http://" + candidate
		case strings.Contains(candidate, "="):
			candidate = "http://localhost/?" + candidate
		default:
			return CallbackParams{}, fmt.Errorf("invalid callback URL")
		}
	}

	parsedURL, err := url.Parse(candidate)
	if err != nil {
		return CallbackParams{}, fmt.Errorf("invalid callback URL: %w", err)
	}

	params := CallbackParamsFromQuery(parsedURL.Query())
	if parsedURL.Fragment != "" {
		if fragQuery, errFrag := url.ParseQuery(parsedURL.Fragment); errFrag == nil {
			frag := CallbackParamsFromQuery(fragQuery)
			if params.Code == "" {
				params.Code = frag.Code
			}
			if params.State == "" {
				params.State = frag.State
			}
			if params.Error == "" {
				params.Error = frag.Error
			}
			if params.ErrorDescription == "" {
				params.ErrorDescription = frag.ErrorDescription
			}
		}
	}

	if params.Code == "" && params.Error == "" && params.ErrorDescription == "" {
		return CallbackParams{}, fmt.Errorf("callback URL missing code")
	}
	return params, nil
}
