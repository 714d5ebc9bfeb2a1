// Package cmd implements the interactive command line flows of codexgate.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/codexgate/internal/auth/codex"
	"github.com/router-for-me/codexgate/internal/browser"
	log "github.com/sirupsen/logrus"
)

// manualPromptDelay is how long the login waits for the browser redirect before
// offering to accept a pasted callback URL.
const manualPromptDelay = 15 * time.Second

// LoginFlow is the part of codex.Manager the interactive login drives.
type LoginFlow interface {
	Start(ctx context.Context) (string, error)
	HandleCallback(ctx context.Context, params codex.CallbackParams) codex.CallbackOutcome
	Wait(ctx context.Context) (codex.AuthStatus, error)
	Cancel()
}

// LoginOptions contains options for the login process.
type LoginOptions struct {
	// NoBrowser skips opening the browser automatically.
	NoBrowser bool

	// CallbackPort is shown in the SSH tunnel hint.
	CallbackPort int

	// Prompt, when set, lets the user paste the redirect URL if the browser cannot
	// reach the callback listener.
	Prompt func(prompt string) (string, error)

	// PromptDelay overrides manualPromptDelay.
	PromptDelay time.Duration
}

// DoCodexLogin runs one authorization attempt to completion: it prints or opens the
// authorization URL, waits for the redirect and reports the outcome.
func DoCodexLogin(ctx context.Context, flow LoginFlow, options *LoginOptions) error {
	if options == nil {
		options = &LoginOptions{}
	}

	authURL, err := flow.Start(ctx)
	if err != nil {
		return err
	}
	presentURL(authURL, options)

	fmt.Println("Waiting for Codex authentication callback...")

	promptCtx, stopPrompt := context.WithCancel(ctx)
	defer stopPrompt()
	if options.Prompt != nil {
		delay := options.PromptDelay
		if delay <= 0 {
			delay = manualPromptDelay
		}
		go promptForRedirect(promptCtx, flow, options.Prompt, delay)
	}

	status, errWait := flow.Wait(ctx)
	if errWait != nil {
		flow.Cancel()
		return errWait
	}
	if status.Status == codex.StatusError {
		return errors.New(status.Error)
	}
	fmt.Println("Codex authentication successful!")
	return nil
}

func presentURL(authURL string, options *LoginOptions) {
	if !options.NoBrowser {
		fmt.Println("Opening browser for Codex authentication")
		if !browser.IsAvailable() {
			log.Warn("No browser available; please open the URL manually")
		} else if err := browser.OpenURL(authURL); err != nil {
			log.Warnf("Failed to open browser automatically: %v", err)
		} else {
			return
		}
	}
	if options.CallbackPort > 0 {
		fmt.Printf("On a remote machine, forward the callback port first: ssh -L %d:127.0.0.1:%d <user>@<server>\n", options.CallbackPort, options.CallbackPort)
	}
	fmt.Printf("Visit the following URL to continue authentication:\n%s\n", authURL)
	if browser.CopyToClipboard(authURL) {
		fmt.Println("The URL has been copied to your clipboard.")
	}
}

// promptForRedirect offers the manual path after delay and relays every pasted URL
// until one is accepted or ctx ends.
func promptForRedirect(ctx context.Context, flow LoginFlow, prompt func(string) (string, error), delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	for ctx.Err() == nil {
		input, err := prompt("Paste the Codex callback URL (or press Enter to keep waiting): ")
		if err != nil {
			log.Debugf("callback prompt closed: %v", err)
			return
		}
		if ctx.Err() != nil || strings.TrimSpace(input) == "" {
			continue
		}
		params, errParse := codex.ParseRedirectURL(input)
		if errParse != nil {
			fmt.Printf("Could not read that URL: %v\n", errParse)
			continue
		}
		outcome := flow.HandleCallback(ctx, params)
		if !outcome.Success() {
			fmt.Printf("Callback rejected: %s\n", outcome.Message())
		}
		return
	}
}
