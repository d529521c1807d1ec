package sinks

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/terencesc/hidsd/pkg/alertbus"
)

// EmailSink is a stub transport: it formats the subject/body an SMTP
// client would send and logs them instead of dialing out. Wiring a
// real SMTP client is left to the operator; this mirrors the
// original's own EmailAlertMethod, which is documented there as a
// placeholder pending a library choice.
type EmailSink struct {
	mu            sync.Mutex
	log           *logrus.Logger
	smtpServer    string
	from          string
	to            string
	subjectPrefix string
}

// NewEmailSink creates a stub email sink.
func NewEmailSink(log *logrus.Logger, smtpServer, from, to, subjectPrefix string) *EmailSink {
	if log == nil {
		log = logrus.New()
	}
	return &EmailSink{log: log, smtpServer: smtpServer, from: from, to: to, subjectPrefix: subjectPrefix}
}

// Send formats the message the sink would have emailed and logs it.
func (s *EmailSink) Send(a alertbus.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subject := fmt.Sprintf("%s - %s", s.subjectPrefix, a.Type)
	body := fmt.Sprintf("[%s] [Severity: %d] %s", a.Timestamp, a.Severity, a.Message)

	s.log.WithFields(logrus.Fields{
		"smtp_server": s.smtpServer,
		"from":        s.from,
		"to":          s.to,
		"subject":     subject,
	}).Info(body)
}
