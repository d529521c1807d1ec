// Package socketnotify forwards alerts as JSON messages over a UNIX
// domain socket to an external listener, mirroring the reference
// daemon's Telegram notifier but transport-agnostic and without the
// original's hand-rolled (and buggy) JSON string building.
package socketnotify

import (
	"bufio"
	"encoding/json"
	"net"
	"regexp"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/terencesc/hidsd/pkg/alertbus"
)

const dialTimeout = 2 * time.Second

var ipTokenPattern = regexp.MustCompile(`\b(?:from IP |IP=)(\S+)`)

const defaultSourceIP = "127.0.0.1"

// wireMessage is the JSON payload sent to the listener. The listener
// rejects any document missing "ip" or "reason", so the field names
// here are the contract, not a convenience rename of the Alert type.
type wireMessage struct {
	IP        string `json:"ip"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
}

// Notifier sends alerts at or above MinSeverity to a UNIX socket
// listener as newline-delimited JSON. Delivery is best effort: a
// failed send is logged and dropped, never retried. Send runs on the
// caller's goroutine, so the bus waits for it; the connect attempt is
// bounded by a 2-second dial timeout.
type Notifier struct {
	log *logrus.Logger

	mu          sync.Mutex
	socketPath  string
	minSeverity int
	dial        func(network, address string, timeout time.Duration) (net.Conn, error)
}

// New creates a Notifier targeting the UNIX socket at socketPath, only
// forwarding alerts with severity >= minSeverity.
func New(socketPath string, minSeverity int, log *logrus.Logger) *Notifier {
	if log == nil {
		log = logrus.New()
	}
	return &Notifier{
		log:         log,
		socketPath:  socketPath,
		minSeverity: minSeverity,
		dial:        net.DialTimeout,
	}
}

// Send implements alertbus.Sink. Alerts below the configured severity
// are silently dropped.
func (n *Notifier) Send(a alertbus.Alert) {
	n.mu.Lock()
	path := n.socketPath
	minSeverity := n.minSeverity
	dial := n.dial
	n.mu.Unlock()

	if a.Severity < minSeverity {
		return
	}

	msg := wireMessage{
		IP:        extractSourceIP(a.Message),
		Reason:    a.Message,
		Timestamp: a.Timestamp,
	}

	encoded, err := json.Marshal(msg)
	if err != nil {
		n.log.WithError(err).Error("socketnotify: failed to encode alert")
		return
	}

	conn, err := dial("unix", path, dialTimeout)
	if err != nil {
		n.log.WithError(err).WithField("socket", path).Warn("socketnotify: failed to connect")
		return
	}
	defer conn.Close()

	w := bufio.NewWriter(conn)
	if _, err := w.Write(encoded); err != nil {
		n.log.WithError(err).Warn("socketnotify: failed to write alert")
		return
	}
	if err := w.WriteByte('\n'); err != nil {
		n.log.WithError(err).Warn("socketnotify: failed to write delimiter")
		return
	}
	if err := w.Flush(); err != nil {
		n.log.WithError(err).Warn("socketnotify: failed to flush alert")
	}
}

// extractSourceIP pulls the first "IP=<token>" or "from IP <token>"
// occurrence out of an alert message, defaulting to the loopback
// address when neither is present.
func extractSourceIP(message string) string {
	m := ipTokenPattern.FindStringSubmatch(message)
	if m == nil {
		return defaultSourceIP
	}
	return m[1]
}

// SetSocketPath updates the socket path used by subsequent sends.
func (n *Notifier) SetSocketPath(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.socketPath = path
}

// SetMinSeverity updates the severity floor used by subsequent sends.
func (n *Notifier) SetMinSeverity(min int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.minSeverity = min
}

