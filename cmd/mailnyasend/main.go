// Command mailnyasend builds one Mail from flags and submits it over
// SMTP, exercising the full stack: Mail/Attachment construction, the
// smtp state machine, nettransport, and mailnyalog.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nyacpp/mailnya"
	"github.com/nyacpp/mailnya/mailnyalog"
	"github.com/nyacpp/mailnya/smtp"
	"github.com/nyacpp/mailnya/smtp/nettransport"
)

type flags struct {
	from, subject, body                string
	to, cc, bcc, attachments           []string
	host, username, password, modeFlag string
	port                               uint16
	timeout                            time.Duration
}

func main() {
	f := &flags{}

	root := &cobra.Command{
		Use:   "mailnyasend",
		Short: "Build and submit one mail over SMTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(f)
		},
	}

	fl := root.Flags()
	fl.StringVar(&f.from, "from", "", "sender address (required)")
	fl.StringSliceVar(&f.to, "to", nil, "recipient address (repeatable)")
	fl.StringSliceVar(&f.cc, "cc", nil, "cc address (repeatable)")
	fl.StringSliceVar(&f.bcc, "bcc", nil, "bcc address (repeatable)")
	fl.StringVar(&f.subject, "subject", "", "subject line")
	fl.StringVar(&f.body, "body", "", "plain-text body")
	fl.StringSliceVar(&f.attachments, "attach", nil, "file path to attach (repeatable)")
	fl.StringVar(&f.host, "host", "", "SMTP server host (required)")
	fl.Uint16Var(&f.port, "port", 587, "SMTP server port")
	fl.StringVar(&f.username, "username", "", "SMTP auth username")
	fl.StringVar(&f.password, "password", "", "SMTP auth password")
	fl.StringVar(&f.modeFlag, "mode", "starttls", "unencrypted | starttls | forcetls")
	fl.DurationVar(&f.timeout, "timeout", 30*time.Second, "dial/IO timeout")

	root.MarkFlagRequired("from")
	root.MarkFlagRequired("host")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(f *flags) error {
	mode, err := parseMode(f.modeFlag)
	if err != nil {
		return err
	}

	mail := mailnya.NewMail(f.from, f.subject, f.body)
	mail.To = f.to
	mail.Cc = f.cc
	mail.Bcc = f.bcc

	for _, path := range f.attachments {
		a, err := mailnya.NewFileAttachment(path)
		if err != nil {
			return fmt.Errorf("attach %s: %w", path, err)
		}
		mail.AddAttachment(filepath.Base(path), a)
	}

	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)
	logger := mailnyalog.New(log, os.Stdout)

	done := make(chan struct{})
	sink := &cliSink{done: done}

	cfg := smtp.Config{
		Host:     f.host,
		Username: f.username,
		Password: f.password,
		Sink:     sink,
		Logger:   logger,
		NewTransport: func(r smtp.Receiver) smtp.Transport {
			return nettransport.New(nettransport.Config{
				Addr:    fmt.Sprintf("%s:%d", f.host, f.port),
				Mode:    mode,
				Timeout: f.timeout,
			}, f.host, r)
		},
	}

	sess := smtp.New(cfg)
	sess.Connect()
	sess.Send(mail)

	<-done
	sess.Disconnect()
	if sink.err != nil {
		return sink.err
	}
	return nil
}

func parseMode(s string) (nettransport.Mode, error) {
	switch s {
	case "unencrypted":
		return nettransport.ModeUnencrypted, nil
	case "starttls":
		return nettransport.ModeSTARTTLS, nil
	case "forcetls":
		return nettransport.ModeForceTLS, nil
	}
	return 0, fmt.Errorf("invalid --mode %q: want unencrypted, starttls, or forcetls", s)
}

// cliSink reports exactly one outcome for the single mail this command
// submits, then signals done.
type cliSink struct {
	done chan struct{}
	once sync.Once
	err  error
}

func (s *cliSink) OnError(err error) {
	if s.err == nil {
		s.err = err
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	switch err {
	case mailnya.ErrSenderRejected, mailnya.ErrRecipientRejected, mailnya.ErrBodyRejected, mailnya.ErrNoRecipients:
		// Per-mail errors: the session carries on and reports OnAllDone.
		return
	}
	s.finish()
}

func (s *cliSink) finish() {
	s.once.Do(func() { close(s.done) })
}

func (s *cliSink) OnDone(m *mailnya.Mail) {
	fmt.Fprintf(os.Stdout, "sent: %s\n", m.Subject)
}

func (s *cliSink) OnAllDone() {
	s.finish()
}
