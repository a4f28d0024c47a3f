package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	goRecovery "github.com/MrEthical07/goRecovery"
	"github.com/MrEthical07/goRecovery/client"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	flowBaseURL string
	flowLang    string
	flowMethod  string
	flowTimeout time.Duration
)

var flowCmd = &cobra.Command{
	Use:   "flow",
	Short: "Walk through password recovery against a running proxy",
	Long: `Prompt for a recovery method and contact, request an OTP, verify it and
set a new password, calling the /api/auth routes at --base-url.

Validation failures re-prompt the current step. An expired session ends the
walk-through.`,
	RunE: runFlow,
}

func init() {
	flowCmd.Flags().StringVar(&flowBaseURL, "base-url", "http://localhost:8080", "Proxy base URL")
	flowCmd.Flags().StringVar(&flowLang, "lang", "en", "Accept-Language sent with each call")
	flowCmd.Flags().StringVar(&flowMethod, "method", "", "Recovery method: phone or email (prompted when empty)")
	flowCmd.Flags().DurationVar(&flowTimeout, "step-timeout", 30*time.Second, "Timeout per step including retries")
}

// prompter reads answers from the command input, hiding passwords when the
// input is a terminal.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
	tty bool
}

func newPrompter(cmd *cobra.Command) *prompter {
	p := &prompter{
		in:  bufio.NewReader(cmd.InOrStdin()),
		out: cmd.OutOrStdout(),
		fd:  -1,
	}
	if f, ok := cmd.InOrStdin().(*os.File); ok {
		p.fd = int(f.Fd())
		p.tty = term.IsTerminal(p.fd)
	}
	return p
}

func (p *prompter) ask(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (p *prompter) secret(label string) (string, error) {
	if !p.tty {
		return p.ask(label)
	}
	fmt.Fprintf(p.out, "%s: ", label)
	raw, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func runFlow(cmd *cobra.Command, args []string) error {
	httpClient, err := client.New(
		client.StaticEnvironment{URL: flowBaseURL, Lang: flowLang},
		client.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	cfg := goRecovery.DefaultConfig()
	cfg.Workflow.StepTimeout = flowTimeout

	engine, err := goRecovery.New().
		WithConfig(cfg).
		WithTransport(httpClient).
		WithNotifier(goRecovery.NotifierFunc(func(_ context.Context, n goRecovery.Notification) {
			prefix := "ok"
			if n.Level == goRecovery.NotificationError {
				prefix = "error"
			}
			fmt.Fprintf(out, "[%s] %s\n", prefix, n.Message)
		})).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	p := newPrompter(cmd)
	ctx := cmd.Context()
	w := engine.Start()

	method, err := chooseMethod(p, w)
	if err != nil {
		return err
	}

	if err := repeatStep(out, func() error {
		label := "Phone number"
		if method == goRecovery.MethodEmail {
			label = "Email"
		}
		contact, err := p.ask(label)
		if err != nil {
			return err
		}
		if method == goRecovery.MethodEmail {
			err = w.SetEmail(contact)
		} else {
			err = w.SetPhone(contact)
		}
		if err != nil {
			return err
		}
		_, err = w.SubmitContact(ctx)
		return err
	}); err != nil {
		return err
	}

	if err := repeatStep(out, func() error {
		code, err := p.ask("OTP")
		if err != nil {
			return err
		}
		if err := w.SetOTP(code); err != nil {
			return err
		}
		_, err = w.SubmitOTP(ctx)
		return err
	}); err != nil {
		return err
	}

	if err := repeatStep(out, func() error {
		pw, err := p.secret("New password")
		if err != nil {
			return err
		}
		confirm, err := p.secret("Confirm password")
		if err != nil {
			return err
		}
		if err := w.SetPassword(pw, confirm); err != nil {
			return err
		}
		_, err = w.SubmitNewPassword(ctx)
		return err
	}); err != nil {
		return err
	}

	fmt.Fprintln(out, "Password updated. Sign in with the new password.")
	return nil
}

func chooseMethod(p *prompter, w *goRecovery.Workflow) (goRecovery.Method, error) {
	raw := flowMethod
	for {
		if raw == "" {
			var err error
			if raw, err = p.ask("Recover with (phone/email)"); err != nil {
				return "", err
			}
		}
		method, err := goRecovery.ParseMethod(raw)
		if err == nil {
			err = w.SetMethod(method)
		}
		if err == nil {
			return method, nil
		}
		fmt.Fprintln(p.out, "Choose phone or email")
		raw = ""
	}
}

// repeatStep reruns step while it fails with an error the user can fix by
// answering again. Submission failures were already printed by the notifier.
func repeatStep(out io.Writer, step func() error) error {
	for {
		err := step()
		switch {
		case err == nil:
			return nil
		case goRecovery.IsSessionExpired(err):
			return errors.New("session expired; start again from sign-in")
		case errors.Is(err, goRecovery.ErrOTPSlot):
			fmt.Fprintf(out, "OTP must be at most %d characters\n", goRecovery.OTPLength)
		case errors.Is(err, io.EOF),
			errors.Is(err, context.Canceled),
			errors.Is(err, goRecovery.ErrWorkflowDone),
			errors.Is(err, goRecovery.ErrStepMismatch),
			errors.Is(err, goRecovery.ErrEngineNotReady):
			return err
		}
	}
}
