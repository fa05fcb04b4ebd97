// Package imaputil wraps the go-imap client calls the IMAP backend needs:
// connecting with the configured security mode, listing mailboxes and
// searching.
package imaputil

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
)

// Security modes understood by DialAndLogin.
const (
	SecurityTLS      = "tls"
	SecurityStartTLS = "starttls"
	SecurityNone     = "none"
)

// Params describe how to reach and authenticate against a server.
type Params struct {
	Addr     string
	Username string
	Password string
	// Security is one of SecurityTLS (default), SecurityStartTLS or SecurityNone.
	Security string
	// CAFile replaces the system roots when set.
	CAFile string
	// SkipHostnameCheck still verifies the certificate chain but not the
	// name it was issued for.
	SkipHostnameCheck bool
	// PlainAuth authenticates with SASL PLAIN instead of LOGIN.
	PlainAuth bool
	Timeout   time.Duration
	// Debug receives the raw IMAP exchange.
	Debug io.Writer
}

// DialAndLogin connects and logs into an IMAP server.
func DialAndLogin(ctx context.Context, p Params) (*client.Client, error) {
	host, _, err := net.SplitHostPort(p.Addr)
	if err != nil {
		return nil, fmt.Errorf("address %q: %w", p.Addr, err)
	}
	var tlsConfig *tls.Config
	if p.Security != SecurityNone {
		tlsConfig, err = TLSConfig(host, p.CAFile, !p.SkipHostnameCheck)
		if err != nil {
			return nil, err
		}
	}
	dialer := &net.Dialer{Timeout: p.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return nil, err
	}
	var c *client.Client
	switch p.Security {
	case SecurityStartTLS, SecurityNone:
		// Plain connection, upgraded with STARTTLS unless security is none
		c, err = client.New(conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		if p.Security == SecurityStartTLS {
			if err := c.StartTLS(tlsConfig); err != nil {
				_ = c.Logout()
				return nil, fmt.Errorf("starttls: %w", err)
			}
		}
	default:
		c, err = client.New(tls.Client(conn, tlsConfig))
		if err != nil {
			conn.Close()
			return nil, err
		}
	}
	if p.Debug != nil {
		c.SetDebug(p.Debug)
	}
	if p.PlainAuth {
		err = c.Authenticate(sasl.NewPlainClient("", p.Username, p.Password))
	} else {
		err = c.Login(p.Username, p.Password)
	}
	if err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("login as %s: %w", p.Username, err)
	}
	return c, nil
}

// TLSConfig builds the client TLS configuration. With verifyHostname false
// the peer chain is still checked against the roots.
func TLSConfig(serverName, caFile string, verifyHostname bool) (*tls.Config, error) {
	cfg := &tls.Config{ServerName: serverName}
	var roots *x509.CertPool
	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read ca_file: %w", err)
		}
		roots = x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca_file %s: no certificates found", caFile)
		}
		cfg.RootCAs = roots
	}
	if !verifyHostname {
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyChain(rawCerts, roots)
		}
	}
	return cfg, nil
}

func verifyChain(rawCerts [][]byte, roots *x509.CertPool) error {
	if len(rawCerts) == 0 {
		return errors.New("server sent no certificate")
	}
	certs := make([]*x509.Certificate, len(rawCerts))
	for i, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return fmt.Errorf("parse server certificate: %w", err)
		}
		certs[i] = cert
	}
	opts := x509.VerifyOptions{Roots: roots, Intermediates: x509.NewCertPool()}
	for _, cert := range certs[1:] {
		opts.Intermediates.AddCert(cert)
	}
	_, err := certs[0].Verify(opts)
	return err
}

// ListMailboxes returns all mailbox names.
func ListMailboxes(ctx context.Context, c *client.Client) ([]string, error) {
	mailboxes, err := list(c, "*")
	if err != nil {
		return nil, err
	}
	for _, m := range mailboxes {
		if strings.EqualFold(m, imap.InboxName) {
			return mailboxes, nil
		}
	}
	return append(mailboxes, imap.InboxName), nil
}

// MailboxExists reports whether the server lists a mailbox with that exact
// name.
func MailboxExists(c *client.Client, name string) (bool, error) {
	names, err := list(c, name)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name || (strings.EqualFold(n, imap.InboxName) && strings.EqualFold(name, imap.InboxName)) {
			return true, nil
		}
	}
	return false, nil
}

func list(c *client.Client, pattern string) ([]string, error) {
	mailboxes := []string{}
	ch := make(chan *imap.MailboxInfo, 32)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", pattern, ch)
	}()
	for m := range ch {
		if m != nil && !hasAttr(m, imap.NoSelectAttr) {
			mailboxes = append(mailboxes, m.Name)
		}
	}
	if err := <-done; err != nil {
		return nil, err
	}
	return mailboxes, nil
}

func hasAttr(m *imap.MailboxInfo, attr string) bool {
	for _, a := range m.Attributes {
		if strings.EqualFold(a, attr) {
			return true
		}
	}
	return false
}

// SearchCriteria translates search keywords (all, seen, unseen, flagged,
// unflagged, answered, unanswered, deleted, undeleted) into criteria.
// Several keywords are combined with AND.
func SearchCriteria(keywords []string) (*imap.SearchCriteria, error) {
	criteria := imap.NewSearchCriteria()
	for _, kw := range keywords {
		switch strings.ToLower(strings.TrimSpace(kw)) {
		case "", "all":
		case "seen":
			criteria.WithFlags = append(criteria.WithFlags, imap.SeenFlag)
		case "unseen":
			criteria.WithoutFlags = append(criteria.WithoutFlags, imap.SeenFlag)
		case "flagged":
			criteria.WithFlags = append(criteria.WithFlags, imap.FlaggedFlag)
		case "unflagged":
			criteria.WithoutFlags = append(criteria.WithoutFlags, imap.FlaggedFlag)
		case "answered":
			criteria.WithFlags = append(criteria.WithFlags, imap.AnsweredFlag)
		case "unanswered":
			criteria.WithoutFlags = append(criteria.WithoutFlags, imap.AnsweredFlag)
		case "deleted":
			criteria.WithFlags = append(criteria.WithFlags, imap.DeletedFlag)
		case "undeleted":
			criteria.WithoutFlags = append(criteria.WithoutFlags, imap.DeletedFlag)
		default:
			return nil, fmt.Errorf("unknown search keyword %q", kw)
		}
	}
	return criteria, nil
}

// SearchUIDs returns the UIDs matching criteria in the selected mailbox.
func SearchUIDs(c *client.Client, criteria *imap.SearchCriteria) ([]uint32, error) {
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("uid search: %w", err)
	}
	return uids, nil
}

// EnsureMailbox creates mailbox unless it already exists. It does not
// change the selected mailbox.
func EnsureMailbox(c *client.Client, name string) error {
	if err := c.Create(name); err != nil {
		if ok, lerr := MailboxExists(c, name); lerr == nil && ok {
			return nil
		}
		return fmt.Errorf("create mailbox %s: %w", name, err)
	}
	return nil
}
