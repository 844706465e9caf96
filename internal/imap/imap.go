// Package imap provides a best-effort implementation of the email 2FA-code
// collaborator the login state machine calls on LoginAcid. Per spec.md
// §1 this is an external collaborator; the core only depends on the
// CodeFetcher interface below.
package imap

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// CodeFetcher fetches a numeric confirmation code sent to an account's
// recovery email, used by the LoginAcid login subtask.
type CodeFetcher interface {
	FetchCode(ctx context.Context, email, password string) (string, error)
}

var codePattern = regexp.MustCompile(`\b(\d{6,8})\b`)

// Client polls an IMAP mailbox's INBOX for the most recent message and
// extracts a numeric verification code from its subject.
type Client struct {
	Host string // e.g. "imap.gmail.com:993"

	// PollInterval and MaxWait bound how long FetchCode waits for a new
	// message to arrive before giving up.
	PollInterval time.Duration
	MaxWait      time.Duration
}

// NewClient builds an IMAP code fetcher against host (including port).
func NewClient(host string) *Client {
	return &Client{Host: host, PollInterval: 3 * time.Second, MaxWait: 60 * time.Second}
}

// FetchCode logs into the mailbox and scans the newest messages for a
// verification code, retrying until MaxWait elapses. Best-effort: any
// protocol error is returned to the caller, which treats it as a
// login-flow transient failure.
func (c *Client) FetchCode(ctx context.Context, email, password string) (string, error) {
	deadline := time.Now().Add(c.MaxWait)
	for {
		code, err := c.scanOnce(email, password)
		if err == nil && code != "" {
			return code, nil
		}
		if time.Now().After(deadline) {
			if err != nil {
				return "", fmt.Errorf("imap code fetch: %w", err)
			}
			return "", fmt.Errorf("imap code fetch: no verification code found within %s", c.MaxWait)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.PollInterval):
		}
	}
}

func (c *Client) scanOnce(email, password string) (string, error) {
	cl, err := client.DialTLS(c.Host, nil)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", c.Host, err)
	}
	defer cl.Logout()

	if err := cl.Login(email, password); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}

	mbox, err := cl.Select("INBOX", false)
	if err != nil {
		return "", fmt.Errorf("select INBOX: %w", err)
	}
	if mbox.Messages == 0 {
		return "", nil
	}

	from := uint32(1)
	if mbox.Messages > 10 {
		from = mbox.Messages - 9
	}
	seqSet := new(imap.SeqSet)
	seqSet.AddRange(from, mbox.Messages)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- cl.Fetch(seqSet, []imap.FetchItem{imap.FetchEnvelope}, messages)
	}()

	var newest *imap.Message
	for msg := range messages {
		if msg.Envelope == nil {
			continue
		}
		if newest == nil || msg.Envelope.Date.After(newest.Envelope.Date) {
			newest = msg
		}
	}
	if err := <-done; err != nil {
		return "", fmt.Errorf("fetch inbox: %w", err)
	}
	if newest == nil {
		return "", nil
	}
	if m := codePattern.FindStringSubmatch(newest.Envelope.Subject); m != nil {
		return m[1], nil
	}
	return "", nil
}
